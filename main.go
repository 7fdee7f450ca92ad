package main

import (
	"os"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/cmd"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errors.GetExitCode(err))
	}
}
