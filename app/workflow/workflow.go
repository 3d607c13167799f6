// Package workflow defines the workflow document: a user-authored graph of nodes and edges
// describing an image-generation pipeline, plus its metadata. Documents are stored whole as JSON,
// the package provides decoding with defaults, validation and schema generation.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/umputun/wflib/app/enums"
)

// ErrInvalid is returned for malformed or invalid workflow documents
var ErrInvalid = errors.New("invalid workflow")

// Workflow is a workflow document. Nodes and edges are loosely typed on purpose,
// their shape belongs to the editor and changes between releases.
type Workflow struct {
	ID            string           `json:"id" jsonschema:"description=The id of the workflow"`
	Name          string           `json:"name" jsonschema:"description=The name of the workflow"`
	Author        string           `json:"author" jsonschema:"description=The author of the workflow"`
	Description   string           `json:"description" jsonschema:"description=The description of the workflow"`
	Version       string           `json:"version" jsonschema:"description=The display version of the workflow"`
	Contact       string           `json:"contact" jsonschema:"description=The contact of the workflow"`
	Tags          string           `json:"tags" jsonschema:"description=The tags of the workflow"`
	Notes         string           `json:"notes" jsonschema:"description=The notes of the workflow"`
	Nodes         []map[string]any `json:"nodes" jsonschema:"description=The nodes of the workflow"`
	Edges         []map[string]any `json:"edges" jsonschema:"description=The edges of the workflow"`
	ExposedFields []ExposedField   `json:"exposedFields" jsonschema:"description=The exposed fields of the workflow"`
	Meta          Meta             `json:"meta" jsonschema:"required,description=The meta of the workflow"`
}

// ExposedField points to a node input surfaced to the end user
type ExposedField struct {
	NodeID    string `json:"nodeId"`
	FieldName string `json:"fieldName"`
}

// Meta holds document metadata
type Meta struct {
	Version  string                 `json:"version" jsonschema:"required,description=The version of the workflow schema"`
	Category enums.WorkflowCategory `json:"category,omitzero"`
}

// Parse decodes a workflow document, fills defaults and validates it
func Parse(data []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return Workflow{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	wf = wf.WithDefaults()
	if err := wf.Validate(); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// WithDefaults returns a copy with a generated id (if missing) and empty lists instead of nils
func (w Workflow) WithDefaults() Workflow {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Nodes == nil {
		w.Nodes = []map[string]any{}
	}
	if w.Edges == nil {
		w.Edges = []map[string]any{}
	}
	if w.ExposedFields == nil {
		w.ExposedFields = []ExposedField{}
	}
	return w
}

// Validate checks the document. The schema version must be a MAJOR.MINOR.PATCH semantic version.
func (w Workflow) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if !IsSemver(w.Meta.Version) {
		return fmt.Errorf("%w: meta.version %q is not a valid semantic version", ErrInvalid, w.Meta.Version)
	}
	for i, f := range w.ExposedFields {
		if f.NodeID == "" || f.FieldName == "" {
			return fmt.Errorf("%w: exposed field %d requires nodeId and fieldName", ErrInvalid, i)
		}
	}
	return nil
}

// Category returns the category declared in the document, if any
func (w Workflow) Category() (enums.WorkflowCategory, bool) {
	if w.Meta.Category == (enums.WorkflowCategory{}) {
		return enums.WorkflowCategory{}, false
	}
	return w.Meta.Category, true
}

// Encode returns the canonical JSON form stored in the database
func (w Workflow) Encode() ([]byte, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow %s: %w", w.ID, err)
	}
	return b, nil
}

// IsSemver reports whether v is a strict semantic version without the "v" prefix,
// i.e. 1.0.0, 1.2.3-beta.1 or 1.2.3+build. Shorthands like 1.2 are rejected.
func IsSemver(v string) bool {
	if v == "" || strings.HasPrefix(v, "v") {
		return false
	}
	if !semver.IsValid("v" + v) {
		return false
	}
	core, _, _ := strings.Cut(v, "+")
	core, _, _ = strings.Cut(core, "-")
	return strings.Count(core, ".") == 2
}
