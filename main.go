// The main package for the annotator executable.
package main

import (
	"github.com/JakeFAU/uniprot-annotator/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
