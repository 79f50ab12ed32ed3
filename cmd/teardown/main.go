// Package main is the entry point for the teardown CLI.
//
// teardown removes every cloud resource belonging to an OpenEMR EKS
// deployment: database clusters and their snapshots, backup vaults with
// their recovery-point forests, buckets, log groups, the audit trail and
// finally the Terraform-managed infrastructure itself. Success is always
// established by re-enumerating the provider, never by trusting delete
// calls, so re-running after a partial failure is safe.
//
// For detailed usage information, run:
//
//	teardown --help
package main

import (
	"fmt"
	"os"

	"github.com/openemr-eks/teardown/cmd/teardown/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
