// Package aws wraps the AWS service clients behind the narrow interfaces the
// teardown engine consumes. All provider errors are classified here, at the
// boundary, so the engine only ever sees fault categories.
package aws
