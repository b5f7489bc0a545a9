package main

import (
	"os"

	"github.com/gantryhq/gantry/cmd/gantry/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
