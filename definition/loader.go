// Package definition loads the persisted representation of process
// descriptions. A definition document is a YAML rendering of the structure
// the grammar front end produces; loading always runs the full validator, so
// a document that fails any integrity check registers nothing.
package definition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bpml-go/bpml/types"
	"github.com/bpml-go/bpml/validator"
)

// Parse decodes a YAML definition document without validating it.
func Parse(data []byte) (validator.Document, error) {
	var doc validator.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return validator.Document{}, fmt.Errorf("failed to decode definition document: %w", err)
	}
	return doc, nil
}

// Load decodes and validates a YAML definition document. On validation
// failure it returns every violation found and no definitions.
func Load(data []byte) ([]*types.ProcessDefinition, []validator.ValidationError, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	defs, verrs := validator.Validate(doc)
	if len(verrs) > 0 {
		return nil, verrs, nil
	}
	return defs, nil, nil
}

// LoadFile reads and loads a definition document from disk.
func LoadFile(path string) ([]*types.ProcessDefinition, []validator.ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read definition document: %w", err)
	}
	return Load(data)
}
