package main

import (
	"os"

	"github.com/agent-island/cauth/internal/cauth/cli"
)

func main() {
	os.Exit(cli.Execute())
}
