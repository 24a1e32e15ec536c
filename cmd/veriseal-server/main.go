package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the root command and reports a failure on stderr, since the
// root command silences cobra's own error output.
func run(args []string, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "veriseal-server: %v\n", err)
		return 1
	}
	return 0
}
