package tfstate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/teardown"
)

// Service implements the infrastructure stage pair: the bulk destroy and the
// local state cleanup afterwards.
type Service struct {
	Dir    string
	Runner Runner
	// DestroyTimeout bounds one destroy invocation.
	DestroyTimeout time.Duration
}

// Stack returns a single stack ref while the state still tracks managed
// resources, and nothing once it is empty or absent.
func (s *Service) Stack(_ context.Context) ([]teardown.ResourceRef, error) {
	st, err := Load(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	n := st.ManagedInstanceCount()
	if n == 0 {
		return nil, nil
	}
	return []teardown.ResourceRef{{
		Type:  teardown.TypeStack,
		ID:    s.Dir,
		State: fmt.Sprintf("%d resources", n),
	}}, nil
}

// Destroy runs the bulk destroy, bounded by the configured timeout.
func (s *Service) Destroy(ctx context.Context) error {
	if s.DestroyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.DestroyTimeout)
		defer cancel()
	}
	if err := s.Runner.Destroy(ctx, s.Dir); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fault.Timeout(err)
		}
		// Destroy failures are usually residual dependencies; a second pass
		// after the other stages often clears them.
		return fault.InvalidState(err)
	}
	return nil
}

// VerifyDestroyed re-reads the state and returns nil only when it tracks no
// managed resources. Terraform rewrites the state as part of a successful
// destroy, so the file itself is the read-back.
func (s *Service) VerifyDestroyed(_ context.Context) error {
	st, err := Load(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if n := st.ManagedInstanceCount(); n > 0 {
		return fault.Newf(fault.KindInvalidState, "state still tracks %d resources", n)
	}
	return nil
}

// StateFiles lists the local state files still on disk.
func (s *Service) StateFiles(_ context.Context) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	for _, name := range []string{StateFileName, BackupFileName} {
		path := filepath.Join(s.Dir, name)
		if _, err := os.Stat(path); err == nil {
			refs = append(refs, teardown.ResourceRef{Type: teardown.TypeStateFile, ID: path})
		}
	}
	return refs, nil
}

// RemoveState deletes the local state files. Only reached after the destroy
// stage succeeded; removing state with live resources would orphan them.
func (s *Service) RemoveState(_ context.Context) error {
	for _, name := range []string{StateFileName, BackupFileName} {
		if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// VerifyStateGone returns nil once no state file remains on disk.
func (s *Service) VerifyStateGone(ctx context.Context) error {
	refs, err := s.StateFiles(ctx)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return fault.Newf(fault.KindInvalidState, "%s still on disk", refs[0].ID)
	}
	return nil
}
