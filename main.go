package main

import (
	"os"

	"github.com/mhollis/veil/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
