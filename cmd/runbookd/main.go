// Command runbookd is the entry point for the runbookd daemon and its CLI.
package main

import (
	"fmt"
	"os"

	"runbookd/internal/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
