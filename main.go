// The main package for the jobfeed executable.
package main

import (
	"github.com/JakeFAU/jobfeed-publisher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
