package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/okwatch/donorwall/app"
	"github.com/okwatch/donorwall/config"

	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

func main() {

	// A .env file is a developer convenience; its absence is fine.
	_ = godotenv.Load()

	logger := slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	}))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	application := app.New(cfg, logger)

	cmd := BuildCLI(application)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
