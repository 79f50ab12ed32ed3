package commands

import (
	"github.com/spf13/cobra"

	"github.com/openemr-eks/teardown/cmd/teardown/handlers"
)

// Destroy returns the destroy command.
func Destroy() *cobra.Command {
	var opts handlers.DestroyOptions

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down the deployment and all AWS resources it owns",
		Long: `Destroy removes every AWS resource belonging to the deployment.

Resources are removed in dependency order:
  - RDS deletion protection is cleared first (nothing else can proceed past
    a protected cluster)
  - Manual cluster snapshots
  - CloudTrail audit trail and CloudWatch log groups
  - AWS Backup: in-flight jobs are drained, then recovery points (children
    before composites), selections, plans and emptied vaults
  - S3 buckets, emptied version by version
  - The Terraform-managed infrastructure, via terraform destroy
  - Local Terraform state, only after a verified destroy

Every stage re-enumerates the provider afterwards; a stage only counts as
done when nothing matching remains. The command is idempotent: re-running
against a torn-down deployment makes no mutating calls and exits 0.

Example:
  teardown destroy --cluster openemr-eks --region us-west-2

WARNING: This operation is irreversible. Patient data, backups and audit
logs are permanently deleted unless --preserve-backups is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), &opts)
		},
	}

	cmd.Flags().StringVar(&opts.Cluster, "cluster", "", "Target cluster name (default: the cluster_name output of the Terraform state)")
	cmd.Flags().StringVar(&opts.Region, "region", "", "AWS region (default: AWS_REGION, then the Terraform state)")
	cmd.Flags().StringVar(&opts.StateDir, "state-dir", "", "Directory holding the Terraform root module and state (default: .)")
	cmd.Flags().BoolVar(&opts.PreserveBackups, "preserve-backups", false, "Keep recovery points, vaults and manual snapshots")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Skip the interactive confirmation")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Enumerate what would be removed without mutating anything")

	return cmd
}
