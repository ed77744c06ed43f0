package main

import (
	"fmt"
	"os"

	"github.com/intervox-ai/intervox/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
