package teardown

import "fmt"

// ResourceType identifies the provider-level kind of a deletable unit.
type ResourceType string

// Resource types handled by the standard plan.
const (
	TypeDBCluster         ResourceType = "rds:cluster"
	TypeDBClusterSnapshot ResourceType = "rds:cluster-snapshot"
	TypeBucket            ResourceType = "s3:bucket"
	TypeLogGroup          ResourceType = "logs:group"
	TypeTrail             ResourceType = "cloudtrail:trail"
	TypeBackupVault       ResourceType = "backup:vault"
	TypeRecoveryPoint     ResourceType = "backup:recovery-point"
	TypeBackupPlan        ResourceType = "backup:plan"
	TypeBackupSelection   ResourceType = "backup:selection"
	TypeBackupJob         ResourceType = "backup:job"
	TypeEKSCluster        ResourceType = "eks:cluster"
	TypeStack             ResourceType = "terraform:stack"
	TypeStateFile         ResourceType = "terraform:state"
)

// ResourceRef is one concrete deletable unit as observed at enumeration
// time. Refs are produced fresh by each stage's Discover call and never
// cached across stages.
type ResourceRef struct {
	Type ResourceType
	// ID is the provider identifier: a name for named resources, an ARN for
	// backup artifacts.
	ID string
	// State is the provider-reported state at enumeration time, when the
	// API exposes one. Informational only.
	State string
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// dedupeRefs returns refs with duplicates (same type and ID) removed,
// preserving first-seen order.
func dedupeRefs(refs []ResourceRef) []ResourceRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]ResourceRef, 0, len(refs))
	for _, r := range refs {
		key := string(r.Type) + "\x00" + r.ID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
