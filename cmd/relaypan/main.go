package main

import (
	"os"

	"github.com/ppiankov/relaypan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
