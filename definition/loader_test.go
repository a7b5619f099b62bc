package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpml-go/bpml/validator"
)

const sampleDoc = `
project:
  name: hiring
  version: "1.0"
  author: hr-platform

processes:
  - name: JobApplication
    entities:
      - name: Application
        fields:
          - name: candidate
            type: string
          - name: decision
            type: enum
            variants: [approve, reject]
    roles:
      - name: Manager
        supervises: Employee
      - name: Employee
    states:
      - name: Open
      - name: Review
      - name: Closed
    steps:
      - name: Submit
        role: Employee
        entity: Application
      - name: Screen
        role: Manager
        entity: Application
        dependsOn: [Submit]
    transitions:
      - name: startReview
        from: Open
        to: Review
        by: Employee
      - name: close
        from: Review
        to: Closed
        by: Manager
    flow: [Submit, Screen]
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "hiring", doc.Project.Name)
	require.Len(t, doc.Processes, 1)

	p := doc.Processes[0]
	assert.Equal(t, "JobApplication", p.Name)
	assert.Len(t, p.Roles, 2)
	assert.Equal(t, "Employee", p.Roles[0].Supervises)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, []string{"Submit"}, p.Steps[1].DependsOn)
	assert.Equal(t, []string{"Submit", "Screen"}, p.Flow)
	assert.Equal(t, []string{"approve", "reject"}, p.Entities[0].Fields[1].Variants)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("project: [unclosed"))
	assert.Error(t, err)
}

func TestLoadValidDocument(t *testing.T) {
	defs, verrs, err := Load([]byte(sampleDoc))
	require.NoError(t, err)
	require.Empty(t, verrs)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.NotNil(t, def.StepNamed("Screen"))
	assert.Equal(t, "Open", def.InitialState())
}

func TestLoadFailsClosed(t *testing.T) {
	broken := sampleDoc + `
  - name: Broken
    roles:
      - name: Clerk
    states:
      - name: Start
      - name: End
    steps:
      - name: A
        role: Ghost
    transitions:
      - name: t
        from: Start
        to: End
        by: Clerk
`
	defs, verrs, err := Load([]byte(broken))
	require.NoError(t, err)
	assert.Nil(t, defs, "a document with any invalid process registers nothing")
	require.NotEmpty(t, verrs)

	found := false
	for _, e := range verrs {
		if e.Code == validator.CodeUnknownReference {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "def.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	defs, verrs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, verrs)
	assert.Len(t, defs, 1)

	_, _, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
