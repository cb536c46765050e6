// The main package for the forkcrawl executable.
package main

import (
	"github.com/JakeFAU/forkcrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
