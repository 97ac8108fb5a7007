// Command sqlbridge serves the SQL Server bridge over HTTP and offers a
// connectivity check for configuration documents.
package main

import (
	"context"
	"os"

	"github.com/ha1tch/sqlbridge/cmd/sqlbridge/command"
)

func main() {
	root := command.NewRootCommand(command.WithOutput(os.Stdout, os.Stderr))
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
