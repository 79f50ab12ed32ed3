package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stateWithOutputs = `{
  "version": 4,
  "outputs": {
    "cluster_name": {"value": "openemr-eks", "type": "string"},
    "region": {"value": "us-west-2", "type": "string"}
  },
  "resources": []
}`

func writeTestState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "terraform.tfstate"), []byte(stateWithOutputs), 0o600))
	return dir
}

func TestResolveConfigFillsFromState(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	cfg, err := resolveConfig(&DestroyOptions{StateDir: writeTestState(t)})
	require.NoError(t, err)
	assert.Equal(t, "openemr-eks", cfg.ClusterName)
	assert.Equal(t, "us-west-2", cfg.Region)
}

func TestResolveConfigFlagsWinOverEnvironment(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-central-1")
	cfg, err := resolveConfig(&DestroyOptions{
		Cluster:  "openemr-eks",
		Region:   "us-east-1",
		StateDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestResolveConfigRejectsClusterMismatch(t *testing.T) {
	_, err := resolveConfig(&DestroyOptions{
		Cluster:  "some-other-cluster",
		StateDir: writeTestState(t),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestResolveConfigRequiresTarget(t *testing.T) {
	t.Setenv("AWS_REGION", "us-west-2")
	_, err := resolveConfig(&DestroyOptions{StateDir: t.TempDir()})
	require.Error(t, err, "no flag, no env, no state: must refuse to guess a target")
}

func TestResolveConfigMatchingFlagAndStateAgree(t *testing.T) {
	cfg, err := resolveConfig(&DestroyOptions{
		Cluster:         "openemr-eks",
		StateDir:        writeTestState(t),
		PreserveBackups: true,
		DryRun:          true,
	})
	require.NoError(t, err)
	assert.True(t, cfg.PreserveBackups)
	assert.True(t, cfg.DryRun)
}
