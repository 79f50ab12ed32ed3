package aws

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/backup"
	backuptypes "github.com/aws/aws-sdk-go-v2/service/backup/types"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/teardown"
	"github.com/openemr-eks/teardown/internal/teardown/recoverypoints"
)

type backupAPI interface {
	ListBackupJobs(ctx context.Context, in *backup.ListBackupJobsInput, opts ...func(*backup.Options)) (*backup.ListBackupJobsOutput, error)
	DescribeBackupJob(ctx context.Context, in *backup.DescribeBackupJobInput, opts ...func(*backup.Options)) (*backup.DescribeBackupJobOutput, error)
	ListBackupVaults(ctx context.Context, in *backup.ListBackupVaultsInput, opts ...func(*backup.Options)) (*backup.ListBackupVaultsOutput, error)
	DescribeBackupVault(ctx context.Context, in *backup.DescribeBackupVaultInput, opts ...func(*backup.Options)) (*backup.DescribeBackupVaultOutput, error)
	DeleteBackupVault(ctx context.Context, in *backup.DeleteBackupVaultInput, opts ...func(*backup.Options)) (*backup.DeleteBackupVaultOutput, error)
	ListRecoveryPointsByBackupVault(ctx context.Context, in *backup.ListRecoveryPointsByBackupVaultInput, opts ...func(*backup.Options)) (*backup.ListRecoveryPointsByBackupVaultOutput, error)
	DeleteRecoveryPoint(ctx context.Context, in *backup.DeleteRecoveryPointInput, opts ...func(*backup.Options)) (*backup.DeleteRecoveryPointOutput, error)
	DisassociateRecoveryPointFromParent(ctx context.Context, in *backup.DisassociateRecoveryPointFromParentInput, opts ...func(*backup.Options)) (*backup.DisassociateRecoveryPointFromParentOutput, error)
	DisassociateRecoveryPoint(ctx context.Context, in *backup.DisassociateRecoveryPointInput, opts ...func(*backup.Options)) (*backup.DisassociateRecoveryPointOutput, error)
	ListBackupPlans(ctx context.Context, in *backup.ListBackupPlansInput, opts ...func(*backup.Options)) (*backup.ListBackupPlansOutput, error)
	DeleteBackupPlan(ctx context.Context, in *backup.DeleteBackupPlanInput, opts ...func(*backup.Options)) (*backup.DeleteBackupPlanOutput, error)
	ListBackupSelections(ctx context.Context, in *backup.ListBackupSelectionsInput, opts ...func(*backup.Options)) (*backup.ListBackupSelectionsOutput, error)
	DeleteBackupSelection(ctx context.Context, in *backup.DeleteBackupSelectionInput, opts ...func(*backup.Options)) (*backup.DeleteBackupSelectionOutput, error)
}

// BackupClient implements vault, plan, selection and job operations against
// AWS Backup.
type BackupClient struct {
	api backupAPI
}

// activeJobStates are the non-terminal backup job states; a job in any of
// them holds a lock on its recovery points.
var activeJobStates = map[backuptypes.BackupJobState]bool{
	backuptypes.BackupJobStateCreated:  true,
	backuptypes.BackupJobStatePending:  true,
	backuptypes.BackupJobStateRunning:  true,
	backuptypes.BackupJobStateAborting: true,
}

// ListActiveJobs returns in-flight backup jobs writing into target vaults.
func (c *BackupClient) ListActiveJobs(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	var token *string
	for {
		out, err := c.api.ListBackupJobs(ctx, &backup.ListBackupJobsInput{NextToken: token})
		if err != nil {
			return nil, Classify(err)
		}
		for _, job := range out.BackupJobs {
			if !activeJobStates[job.State] {
				continue
			}
			vault := awssdk.ToString(job.BackupVaultName)
			resource := awssdk.ToString(job.ResourceArn)
			if matchesTarget(vault, target) || matchesTarget(resource, target) {
				refs = append(refs, teardown.ResourceRef{
					Type:  teardown.TypeBackupJob,
					ID:    awssdk.ToString(job.BackupJobId),
					State: string(job.State),
				})
			}
		}
		if out.NextToken == nil {
			return refs, nil
		}
		token = out.NextToken
	}
}

// VerifyJobSettled returns nil once the job has reached a terminal state.
func (c *BackupClient) VerifyJobSettled(ctx context.Context, id string) error {
	out, err := c.api.DescribeBackupJob(ctx, &backup.DescribeBackupJobInput{
		BackupJobId: awssdk.String(id),
	})
	if err != nil {
		return Classify(err)
	}
	if activeJobStates[out.State] {
		return fault.Newf(fault.KindInvalidState, "backup job %s still %s", id, out.State)
	}
	return nil
}

// ListRecoveryPoints enumerates every recovery point in target vaults,
// composite parents included.
func (c *BackupClient) ListRecoveryPoints(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	err := c.eachRecoveryPoint(ctx, target, func(vault string, rp backuptypes.RecoveryPointByBackupVault) {
		refs = append(refs, teardown.ResourceRef{
			Type:  teardown.TypeRecoveryPoint,
			ID:    awssdk.ToString(rp.RecoveryPointArn),
			State: string(rp.Status),
		})
	})
	return refs, err
}

func (c *BackupClient) eachRecoveryPoint(ctx context.Context, target string, fn func(vault string, rp backuptypes.RecoveryPointByBackupVault)) error {
	vaults, err := c.vaultNames(ctx, target)
	if err != nil {
		return err
	}
	for _, vault := range vaults {
		var token *string
		for {
			out, err := c.api.ListRecoveryPointsByBackupVault(ctx, &backup.ListRecoveryPointsByBackupVaultInput{
				BackupVaultName: awssdk.String(vault),
				NextToken:       token,
			})
			if err != nil {
				cerr := Classify(err)
				if fault.IsNotFound(cerr) {
					break
				}
				return cerr
			}
			for _, rp := range out.RecoveryPoints {
				fn(vault, rp)
			}
			if out.NextToken == nil {
				break
			}
			token = out.NextToken
		}
	}
	return nil
}

func (c *BackupClient) vaultNames(ctx context.Context, target string) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := c.api.ListBackupVaults(ctx, &backup.ListBackupVaultsInput{NextToken: token})
		if err != nil {
			return nil, Classify(err)
		}
		for _, v := range out.BackupVaultList {
			name := awssdk.ToString(v.BackupVaultName)
			if matchesTarget(name, target) {
				names = append(names, name)
			}
		}
		if out.NextToken == nil {
			return names, nil
		}
		token = out.NextToken
	}
}

// ListSelections returns every selection of target-matching backup plans.
// The ID carries both keys the delete call needs, as planID/selectionID.
func (c *BackupClient) ListSelections(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	plans, err := c.ListPlans(ctx, target)
	if err != nil {
		return nil, err
	}
	var refs []teardown.ResourceRef
	for _, plan := range plans {
		var token *string
		for {
			out, err := c.api.ListBackupSelections(ctx, &backup.ListBackupSelectionsInput{
				BackupPlanId: awssdk.String(plan.ID),
				NextToken:    token,
			})
			if err != nil {
				cerr := Classify(err)
				if fault.IsNotFound(cerr) {
					break
				}
				return nil, cerr
			}
			for _, sel := range out.BackupSelectionsList {
				refs = append(refs, teardown.ResourceRef{
					Type:  teardown.TypeBackupSelection,
					ID:    plan.ID + "/" + awssdk.ToString(sel.SelectionId),
					State: awssdk.ToString(sel.SelectionName),
				})
			}
			if out.NextToken == nil {
				break
			}
			token = out.NextToken
		}
	}
	return refs, nil
}

// DeleteSelection removes one selection, keyed as planID/selectionID.
func (c *BackupClient) DeleteSelection(ctx context.Context, id string) error {
	planID, selectionID, err := splitSelectionID(id)
	if err != nil {
		return err
	}
	_, aerr := c.api.DeleteBackupSelection(ctx, &backup.DeleteBackupSelectionInput{
		BackupPlanId: awssdk.String(planID),
		SelectionId:  awssdk.String(selectionID),
	})
	return Classify(aerr)
}

// VerifySelectionGone returns nil once the plan no longer lists the selection.
func (c *BackupClient) VerifySelectionGone(ctx context.Context, id string) error {
	planID, selectionID, err := splitSelectionID(id)
	if err != nil {
		return err
	}
	out, aerr := c.api.ListBackupSelections(ctx, &backup.ListBackupSelectionsInput{
		BackupPlanId: awssdk.String(planID),
	})
	if aerr != nil {
		return Classify(aerr)
	}
	for _, sel := range out.BackupSelectionsList {
		if awssdk.ToString(sel.SelectionId) == selectionID {
			return fault.Newf(fault.KindInvalidState, "selection %s still present", id)
		}
	}
	return nil
}

func splitSelectionID(id string) (planID, selectionID string, err error) {
	planID, selectionID, ok := strings.Cut(id, "/")
	if !ok || planID == "" || selectionID == "" {
		return "", "", fmt.Errorf("malformed selection id %q, want planID/selectionID", id)
	}
	return planID, selectionID, nil
}

// ListPlans returns the target-matching backup plans.
func (c *BackupClient) ListPlans(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	var token *string
	for {
		out, err := c.api.ListBackupPlans(ctx, &backup.ListBackupPlansInput{NextToken: token})
		if err != nil {
			return nil, Classify(err)
		}
		for _, p := range out.BackupPlansList {
			name := awssdk.ToString(p.BackupPlanName)
			if matchesTarget(name, target) {
				refs = append(refs, teardown.ResourceRef{
					Type:  teardown.TypeBackupPlan,
					ID:    awssdk.ToString(p.BackupPlanId),
					State: name,
				})
			}
		}
		if out.NextToken == nil {
			return refs, nil
		}
		token = out.NextToken
	}
}

// DeletePlan removes one backup plan by ID.
func (c *BackupClient) DeletePlan(ctx context.Context, id string) error {
	_, err := c.api.DeleteBackupPlan(ctx, &backup.DeleteBackupPlanInput{
		BackupPlanId: awssdk.String(id),
	})
	return Classify(err)
}

// VerifyPlanGone returns nil once the plan list no longer carries the ID.
func (c *BackupClient) VerifyPlanGone(ctx context.Context, id string) error {
	var token *string
	for {
		out, err := c.api.ListBackupPlans(ctx, &backup.ListBackupPlansInput{NextToken: token})
		if err != nil {
			return Classify(err)
		}
		for _, p := range out.BackupPlansList {
			if awssdk.ToString(p.BackupPlanId) == id {
				return fault.Newf(fault.KindInvalidState, "backup plan %s still present", id)
			}
		}
		if out.NextToken == nil {
			return nil
		}
		token = out.NextToken
	}
}

// ListVaults returns the target-matching backup vaults.
func (c *BackupClient) ListVaults(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	names, err := c.vaultNames(ctx, target)
	if err != nil {
		return nil, err
	}
	refs := make([]teardown.ResourceRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, teardown.ResourceRef{Type: teardown.TypeBackupVault, ID: name})
	}
	return refs, nil
}

// DeleteVault removes one vault. The provider rejects the call while the
// vault still holds recovery points.
func (c *BackupClient) DeleteVault(ctx context.Context, name string) error {
	_, err := c.api.DeleteBackupVault(ctx, &backup.DeleteBackupVaultInput{
		BackupVaultName: awssdk.String(name),
	})
	return Classify(err)
}

// VerifyVaultGone returns nil once a read-back no longer sees the vault.
func (c *BackupClient) VerifyVaultGone(ctx context.Context, name string) error {
	_, err := c.api.DescribeBackupVault(ctx, &backup.DescribeBackupVaultInput{
		BackupVaultName: awssdk.String(name),
	})
	if err != nil {
		cerr := Classify(err)
		if fault.IsNotFound(cerr) {
			return nil
		}
		return cerr
	}
	return fault.Newf(fault.KindInvalidState, "backup vault %s still present", name)
}

// RecoveryPointClient adapts the AWS Backup recovery-point calls to the
// forest resolver.
type RecoveryPointClient struct {
	api    backupAPI
	target string
}

// List enumerates the recovery-point forest across target vaults.
func (c *RecoveryPointClient) List(ctx context.Context) ([]recoverypoints.Node, error) {
	bc := &BackupClient{api: c.api}
	var nodes []recoverypoints.Node
	err := bc.eachRecoveryPoint(ctx, c.target, func(vault string, rp backuptypes.RecoveryPointByBackupVault) {
		nodes = append(nodes, recoverypoints.Node{
			ARN:       awssdk.ToString(rp.RecoveryPointArn),
			VaultName: vault,
			Composite: rp.IsParent,
			ParentARN: awssdk.ToString(rp.ParentRecoveryPointArn),
			Status:    string(rp.Status),
		})
	})
	return nodes, err
}

// Disassociate detaches a composite point from its children.
func (c *RecoveryPointClient) Disassociate(ctx context.Context, n recoverypoints.Node) error {
	_, err := c.api.DisassociateRecoveryPointFromParent(ctx, &backup.DisassociateRecoveryPointFromParentInput{
		BackupVaultName:  awssdk.String(n.VaultName),
		RecoveryPointArn: awssdk.String(n.ARN),
	})
	return Classify(err)
}

// Delete removes a recovery point via the primary path.
func (c *RecoveryPointClient) Delete(ctx context.Context, n recoverypoints.Node) error {
	_, err := c.api.DeleteRecoveryPoint(ctx, &backup.DeleteRecoveryPointInput{
		BackupVaultName:  awssdk.String(n.VaultName),
		RecoveryPointArn: awssdk.String(n.ARN),
	})
	return Classify(err)
}

// ForceDelete detaches a continuous recovery point from its lifecycle, the
// alternate path for points whose delete call keeps getting rejected.
func (c *RecoveryPointClient) ForceDelete(ctx context.Context, n recoverypoints.Node) error {
	_, err := c.api.DisassociateRecoveryPoint(ctx, &backup.DisassociateRecoveryPointInput{
		BackupVaultName:  awssdk.String(n.VaultName),
		RecoveryPointArn: awssdk.String(n.ARN),
	})
	return Classify(err)
}
