// Package teardown implements the orchestration engine that removes a
// deployed environment from AWS.
//
// A Plan is an ordered list of Stages with explicit dependency edges. Each
// stage re-derives its working set from the cloud on entry (the inventory is
// never carried between stages), drives every target through an
// act/verify/retry/fallback state machine, and reports an outcome. A stage
// only counts as succeeded when re-enumeration shows no matching resources
// left; the return code of a mutating call is never trusted on its own.
//
// Failures are contained at the stage boundary: a failed stage is recorded
// and stages that do not depend on it still run, maximizing partial cleanup.
package teardown
