// Package main provides the retrievectl CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/vnodekit/retrievesync/cmd/retrievectl/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
