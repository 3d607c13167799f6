// Package enums provides type-safe enumeration types for workflow records.
//
// The enum types are defined as unexported integer types in this file, and the go:generate
// directive invokes the go-pkgz/enum generator to create the exported types with string
// conversion, parsing, database (Scan/Value) and text marshaling in *_enum.go files.
//
// Usage:
//
//	cat := enums.WorkflowCategoryUser
//	fmt.Println(cat.String()) // "user"
//
//	parsed, err := enums.ParseWorkflowCategory("system")
//	if err != nil {
//	    // handle invalid input
//	}
//
// To regenerate the enum types after modifications:
//
//	go generate ./app/enums
package enums

import "github.com/invopop/jsonschema"

//go:generate go run github.com/go-pkgz/enum@latest -type workflowCategory -lower

// workflowCategory is the category of a stored workflow.
// This is an unexported type used only as input for the code generator.
// Use the exported WorkflowCategory type and its constants in actual code.
type workflowCategory int

const (
	workflowCategoryImage workflowCategory = iota
	workflowCategoryUser
	workflowCategorySystem
)

// DefaultWorkflowCategory is assigned to rows created without an explicit category
var DefaultWorkflowCategory = WorkflowCategoryImage

// JSONSchema describes the category as a string enum for schema reflection
func (WorkflowCategory) JSONSchema() *jsonschema.Schema {
	names := WorkflowCategoryNames()
	vals := make([]any, 0, len(names))
	for _, n := range names {
		vals = append(vals, n)
	}
	return &jsonschema.Schema{Type: "string", Enum: vals, Description: "category of the workflow"}
}
