// Package handlers implements the command logic behind the CLI.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/openemr-eks/teardown/internal/config"
	"github.com/openemr-eks/teardown/internal/platform/aws"
	"github.com/openemr-eks/teardown/internal/teardown"
	"github.com/openemr-eks/teardown/internal/teardown/recoverypoints"
	"github.com/openemr-eks/teardown/internal/tfstate"
	"github.com/openemr-eks/teardown/internal/ui"
	"github.com/openemr-eks/teardown/internal/util/clock"
)

// DestroyOptions carries the destroy command's flag values.
type DestroyOptions struct {
	Cluster         string
	Region          string
	StateDir        string
	PreserveBackups bool
	Force           bool
	DryRun          bool
}

// errResidual is returned when the run finished but resources remain; the
// report has already named them.
var errResidual = errors.New("teardown incomplete: residual resources remain")

// Destroy handles the destroy command: resolve configuration, preflight the
// credentials, confirm, then run the staged teardown and render the report.
func Destroy(ctx context.Context, opts *DestroyOptions) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	console := ui.NewConsole(os.Stdout)
	clk := clock.Real{}

	client, err := aws.New(ctx, cfg.Region)
	if err != nil {
		return err
	}
	identity, err := client.CallerIdentity(ctx)
	if err != nil {
		return fmt.Errorf("AWS credentials preflight failed: %w", err)
	}

	console.Headerf("Tearing down %s in %s", cfg.ClusterName, cfg.Region)
	console.Dimf("acting as %s (account %s)", identity.ARN, identity.Account)
	if cfg.DryRun {
		console.Warnf("Dry run: enumerating only, nothing will be deleted.")
	}

	if !cfg.Force && !cfg.DryRun {
		ok, err := confirm(cfg)
		if err != nil {
			return err
		}
		if !ok {
			console.Warnf("Aborted.")
			return nil
		}
	}

	resolver := &recoverypoints.Resolver{
		Client:              client.RecoveryPoints(cfg.ClusterName),
		Clock:               clk,
		Log:                 console,
		DisassociateTimeout: cfg.Timeouts.DisassociateTimeout,
		SettleDelay:         cfg.Timeouts.SettleDelay,
	}

	svcs := teardown.Services{
		Database:       client.Database(),
		Storage:        client.Storage(),
		Logs:           client.Logs(),
		Trail:          client.Trail(),
		Backup:         client.Backup(),
		RecoveryPoints: &compositeAdapter{resolver: resolver},
		Cluster:        client.Cluster(),
		Infra: &tfstate.Service{
			Dir:            cfg.StateDir,
			Runner:         &tfstate.ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr},
			DestroyTimeout: cfg.Timeouts.DestroyTimeout,
		},
	}

	runner := teardown.NewRunner(teardown.NewExecutor(clk, console))
	run, err := runner.Run(ctx, teardown.BuildPlan(cfg, svcs))
	if err != nil {
		return err
	}

	report := teardown.Summarize(run)
	report.Render(console)
	if report.ExitCode() != 0 {
		return errResidual
	}
	return nil
}

// resolveConfig merges flags over the environment and fills the target and
// region from the Terraform state when available. A cluster flag that
// contradicts the state is an error: acting on the wrong deployment is the
// one mistake this tool must not make.
func resolveConfig(opts *DestroyOptions) (*config.Config, error) {
	cfg := config.FromEnv()
	if opts.Cluster != "" {
		cfg.ClusterName = opts.Cluster
	}
	if opts.Region != "" {
		cfg.Region = opts.Region
	}
	if opts.StateDir != "" {
		cfg.StateDir = opts.StateDir
	}
	if opts.PreserveBackups {
		cfg.PreserveBackups = true
	}
	cfg.Force = opts.Force
	cfg.DryRun = opts.DryRun

	if st, err := tfstate.Load(cfg.StateDir); err == nil {
		if name := st.ClusterName(); name != "" {
			if cfg.ClusterName == "" {
				cfg.ClusterName = name
			} else if cfg.ClusterName != name {
				return nil, fmt.Errorf("--cluster %q does not match the Terraform state's cluster_name %q in %s",
					cfg.ClusterName, name, cfg.StateDir)
			}
		}
		if cfg.Region == "" {
			cfg.Region = st.Region()
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// confirm asks the operator to acknowledge the deletion.
func confirm(cfg *config.Config) (bool, error) {
	description := "This permanently deletes databases, storage, logs and the audit trail."
	if !cfg.PreserveBackups {
		description = "This permanently deletes databases, backups, recovery points, storage, logs and the audit trail."
	}

	var proceed bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Destroy %s in %s?", cfg.ClusterName, cfg.Region)).
		Description(description).
		Affirmative("Destroy").
		Negative("Abort").
		Value(&proceed).
		Run()
	if err != nil {
		return false, err
	}
	return proceed, nil
}

// compositeAdapter bridges the recovery-point resolver into the plan's
// composite stage.
type compositeAdapter struct {
	resolver *recoverypoints.Resolver
}

func (a *compositeAdapter) Resolve(ctx context.Context) ([]teardown.ResourceRef, error) {
	nodes, err := a.resolver.Resolve(ctx)
	refs := make([]teardown.ResourceRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, teardown.ResourceRef{
			Type:  teardown.TypeRecoveryPoint,
			ID:    n.ARN,
			State: n.Status,
		})
	}
	return refs, err
}
