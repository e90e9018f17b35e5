// Command catalogctl is the operator CLI for a catalog service daemon:
// registering job/workflow definitions, triggering manual runs, and
// inspecting schedules.
package main

import (
	"fmt"
	"os"

	"github.com/flowforge/catalog/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := cli.NewRootCommand()
	root.Version = fmt.Sprintf("%s (%s)", version, commit)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
