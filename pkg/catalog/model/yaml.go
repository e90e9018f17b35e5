package model

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadJobDefinitionYAML reads a JobDefinition from a YAML file, mirroring
// the operator workflow of bootstrapping definitions from files on disk.
func LoadJobDefinitionYAML(path string) (*JobDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def JobDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadWorkflowDefinitionYAML reads a WorkflowDefinition from a YAML file.
func LoadWorkflowDefinitionYAML(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// DumpYAML marshals any definition value back to YAML bytes, used by the
// CLI to round-trip a definition fetched from the record store.
func DumpYAML(v interface{}) ([]byte, error) {
	return yaml.Marshal(v)
}
