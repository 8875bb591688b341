package main

import (
	"os"

	"github.com/aren13/momentum/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
