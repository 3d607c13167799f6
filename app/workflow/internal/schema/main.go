// Command schema writes the JSON schema of the workflow document, used by editors and library authors.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/umputun/wflib/app/workflow"
)

func main() {
	data, err := workflow.SchemaJSON()
	if err != nil {
		log.Fatalf("failed to make schema: %v", err)
	}

	outputPath := "workflow.schema.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := os.WriteFile(outputPath, data, 0o600); err != nil { //nolint:gosec // schema file is not sensitive
		log.Fatalf("failed to write schema file: %v", err)
	}

	fmt.Printf("Schema generated successfully at %s\n", outputPath)
}
