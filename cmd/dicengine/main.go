package main

import (
	"fmt"
	"os"

	"dicengine/internal/cli"
	"dicengine/internal/config"
	"dicengine/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := cli.NewRootCmd(cfg, log).Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
