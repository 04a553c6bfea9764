package main

import (
	"os"

	"github.com/openkraft/anvil/internal/adapters/inbound/cli"
)

func main() {
	os.Exit(cli.Main())
}
