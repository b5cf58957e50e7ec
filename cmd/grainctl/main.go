// Command grainctl is a thin CLI over internal/client, for sending ad hoc
// requests and watching subscriptions against a running cluster without
// writing a Go program against the library.
package main

import (
	"fmt"
	"os"

	"github.com/rcelha/grain/cmd/grainctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
