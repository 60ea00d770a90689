package main

import (
	"os"

	"channelsync/cmd/syncctl/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
