package main

import (
	"os"

	"github.com/hugolhafner/go-transformer/cmd/transformer/cmd"
)

func main() {
	if err := cmd.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
