package tfstate

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Runner abstracts the terraform binary so the service is testable without
// one on PATH.
type Runner interface {
	Destroy(ctx context.Context, dir string) error
}

// ExecRunner shells out to the real terraform binary.
type ExecRunner struct {
	// Binary overrides the executable name; defaults to "terraform".
	Binary string
	Stdout io.Writer
	Stderr io.Writer
}

// Destroy runs a non-interactive destroy of the root module in dir. The
// context bounds the whole invocation; Terraform receives a SIGKILL when it
// expires.
func (r *ExecRunner) Destroy(ctx context.Context, dir string) error {
	bin := r.Binary
	if bin == "" {
		bin = "terraform"
	}
	cmd := exec.CommandContext(ctx, bin, "destroy", "-auto-approve", "-input=false", "-no-color")
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("terraform destroy in %s: %w", dir, err)
	}
	return nil
}
