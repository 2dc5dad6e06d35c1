package main

import (
	"os"

	"github.com/jmbish04/gh-stars-sink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}