// Package recoverypoints deletes a forest of backup recovery points in an
// order the provider accepts: composite parents aggregate non-composite
// children and reject deletion while any child exists.
package recoverypoints

import (
	"context"
	"errors"
	"time"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/util/clock"
)

// Node is one recovery point as observed at enumeration time.
type Node struct {
	ARN       string
	VaultName string
	Composite bool
	// ParentARN links a non-composite child to its composite parent, when
	// the provider reports one.
	ParentARN string
	Status    string
}

// Client is the provider surface the resolver needs. Implementations
// classify their errors through the fault package.
type Client interface {
	// List enumerates the whole forest for the target.
	List(ctx context.Context) ([]Node, error)
	// Disassociate detaches a composite node from its children. Subtypes
	// that do not support this return a fault.Unsupported error.
	Disassociate(ctx context.Context, n Node) error
	// Delete removes a node via the primary deletion path.
	Delete(ctx context.Context, n Node) error
	// ForceDelete is the alternate deletion path for nodes whose primary
	// path keeps failing. Invoked at most once per node.
	ForceDelete(ctx context.Context, n Node) error
}

// Logger receives progress lines.
type Logger interface {
	Printf(format string, v ...any)
}

// Resolver orders and retries deletion across the forest.
type Resolver struct {
	Client Client
	Clock  clock.Clock
	Log    Logger

	// DisassociateTimeout bounds each disassociation call so a hung call
	// cannot stall the run; a hang counts as failure, not success. Zero or
	// negative means defaultDisassociateTimeout; the bound is never off.
	DisassociateTimeout time.Duration
	// SettleDelay is the wait before retrying the leaves that failed the
	// first pass.
	SettleDelay time.Duration
}

// Resolve runs the four passes: best-effort disassociation of composites,
// leaf deletion with one settle-retry and a one-shot fallback, composite
// deletion only for branches whose children verified absent, and a final
// re-enumeration. It returns every node still present.
func (r *Resolver) Resolve(ctx context.Context) ([]Node, error) {
	nodes, err := r.Client.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	var composites, leaves []Node
	for _, n := range nodes {
		if n.Composite {
			composites = append(composites, n)
		} else {
			leaves = append(leaves, n)
		}
	}

	r.disassociate(ctx, composites)
	r.deleteLeaves(ctx, leaves)
	r.deleteComposites(ctx, composites)

	remaining, err := r.Client.List(ctx)
	if err != nil {
		// Deletion may well have worked, but without a final enumeration
		// nothing can be confirmed absent.
		return nodes, err
	}
	return remaining, nil
}

const defaultDisassociateTimeout = 30 * time.Second

// disassociate detaches every composite from its children, best effort.
func (r *Resolver) disassociate(ctx context.Context, composites []Node) {
	timeout := r.DisassociateTimeout
	if timeout <= 0 {
		timeout = defaultDisassociateTimeout
	}

	for _, n := range composites {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		err := r.Client.Disassociate(dctx, n)
		cancel()

		switch {
		case err == nil, fault.IsNotFound(err):
		case fault.IsUnsupported(err):
			r.Log.Printf("disassociation not supported for %s, proceeding to deletion", n.ARN)
		case errors.Is(err, context.DeadlineExceeded):
			r.Log.Printf("disassociation of %s hung past %s, proceeding to deletion without it",
				n.ARN, timeout)
		default:
			r.Log.Printf("disassociation of %s failed: %v", n.ARN, err)
		}
	}
}

// deleteLeaves removes every non-composite node: one pass, a settle delay,
// one retry pass, then the fallback path exactly once for stubborn nodes.
func (r *Resolver) deleteLeaves(ctx context.Context, leaves []Node) {
	var remaining []Node
	for _, n := range leaves {
		if err := r.deleteNode(ctx, n); err != nil {
			remaining = append(remaining, n)
		}
	}
	if len(remaining) == 0 {
		return
	}

	r.Log.Printf("%d recovery points remain after first pass, retrying after settle", len(remaining))
	if err := r.Clock.Sleep(ctx, r.SettleDelay); err != nil {
		return
	}

	for _, n := range remaining {
		if err := r.deleteNode(ctx, n); err == nil {
			continue
		}
		r.Log.Printf("primary deletion of %s keeps failing, trying alternate path", n.ARN)
		if err := r.Client.ForceDelete(ctx, n); err != nil && !fault.IsNotFound(err) {
			r.Log.Printf("alternate deletion of %s failed: %v", n.ARN, err)
		}
	}
}

// deleteComposites removes composite nodes whose children are all verified
// absent by re-enumeration. A composite delete with live children is
// defined to fail on the provider side, so it is never attempted.
func (r *Resolver) deleteComposites(ctx context.Context, composites []Node) {
	if len(composites) == 0 {
		return
	}

	present, err := r.Client.List(ctx)
	if err != nil {
		r.Log.Printf("re-enumeration before composite pass failed: %v", err)
		return
	}
	liveChildren := make(map[string]int)
	for _, n := range present {
		if !n.Composite && n.ParentARN != "" {
			liveChildren[n.ParentARN]++
		}
	}

	for _, n := range composites {
		if c := liveChildren[n.ARN]; c > 0 {
			r.Log.Printf("skipping composite %s: %d children still present", n.ARN, c)
			continue
		}
		if err := r.deleteNode(ctx, n); err != nil {
			r.Log.Printf("composite deletion of %s failed: %v", n.ARN, err)
		}
	}
}

// deleteNode issues one primary delete, treating absence as success.
func (r *Resolver) deleteNode(ctx context.Context, n Node) error {
	err := r.Client.Delete(ctx, n)
	if err == nil || fault.IsNotFound(err) {
		return nil
	}
	return err
}
