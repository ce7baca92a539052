package main

import (
	"os"

	"github.com/ppiankov/threadstat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
