package main

import (
	"os"

	switchboardcmder "github.com/papercomputeco/switchboard/cmd/switchboard"
)

func main() {
	cmd := switchboardcmder.NewSwitchboardCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
