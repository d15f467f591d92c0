package main

import (
	"os"

	"github.com/viewmill/viewmill/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
