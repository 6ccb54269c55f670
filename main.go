// The main package for the pipeline executable.
package main

import (
	"github.com/snapscore/pipeline/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
