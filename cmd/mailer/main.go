// Package main is the entry point for the campaign mailer CLI.
package main

import (
	"fmt"
	"os"

	"github.com/ignite/campaign-mailer/cmd/mailer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
