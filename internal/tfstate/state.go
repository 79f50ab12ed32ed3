// Package tfstate reads the local Terraform state and drives the bulk
// destroy through the terraform binary.
package tfstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateFileName is the default local state file Terraform maintains.
const StateFileName = "terraform.tfstate"

// BackupFileName is the previous-generation state Terraform keeps alongside.
const BackupFileName = "terraform.tfstate.backup"

// State is the subset of the version-4 state format the teardown needs.
type State struct {
	Path             string
	Version          int
	TerraformVersion string
	Outputs          map[string]any
	Resources        []Resource
}

// Resource is one tracked resource block.
type Resource struct {
	Mode      string
	Type      string
	Name      string
	Instances int
}

type rawState struct {
	Version          int                  `json:"version"`
	TerraformVersion string               `json:"terraform_version"`
	Outputs          map[string]rawOutput `json:"outputs"`
	Resources        []rawResource        `json:"resources"`
}

type rawOutput struct {
	Value any `json:"value"`
}

type rawResource struct {
	Mode      string            `json:"mode"`
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Instances []json.RawMessage `json:"instances"`
}

// Load reads and parses the state file in dir. A missing file returns
// os.ErrNotExist via the underlying read.
func Load(dir string) (*State, error) {
	path := filepath.Join(dir, StateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	st := &State{
		Path:             path,
		Version:          raw.Version,
		TerraformVersion: raw.TerraformVersion,
		Outputs:          make(map[string]any, len(raw.Outputs)),
	}
	for name, out := range raw.Outputs {
		st.Outputs[name] = out.Value
	}
	for _, r := range raw.Resources {
		st.Resources = append(st.Resources, Resource{
			Mode:      r.Mode,
			Type:      r.Type,
			Name:      r.Name,
			Instances: len(r.Instances),
		})
	}
	return st, nil
}

// StringOutput returns a string-typed output value, or "" when absent or of
// another type.
func (s *State) StringOutput(name string) string {
	v, ok := s.Outputs[name].(string)
	if !ok {
		return ""
	}
	return v
}

// ClusterName returns the cluster_name output the provisioning stack writes.
func (s *State) ClusterName() string {
	return s.StringOutput("cluster_name")
}

// Region returns the region output, falling back to aws_region.
func (s *State) Region() string {
	if r := s.StringOutput("region"); r != "" {
		return r
	}
	return s.StringOutput("aws_region")
}

// ManagedInstanceCount returns the number of managed resource instances the
// state still tracks. Data sources do not count: they hold nothing to
// destroy.
func (s *State) ManagedInstanceCount() int {
	n := 0
	for _, r := range s.Resources {
		if r.Mode == "managed" {
			n += r.Instances
		}
	}
	return n
}
