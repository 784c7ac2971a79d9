package main

import (
	"os"

	"github.com/cyberinferno/go-apinet/cmd/apinetd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
