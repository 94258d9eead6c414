package main

import (
	"os"

	"github.com/intakehq/journalstore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
