package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Flags fall back to the environment, so .env must be loaded before parsing.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, fmt.Errorf("failed to load .env: %w", err))
		os.Exit(1)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "kanshi",
		Usage: "Index Starknet contract events from a checkpointed stream",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Stream events for a contract and hand them to the consumer",
				Flags:  runFlags(),
				Action: run,
			},
		},
	}
}
