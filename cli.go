package main

import (
	"context"

	"github.com/okwatch/donorwall/app"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Run(ctx context.Context, opts app.RunOptions) error
}

// BuildCLI creates the CLI command for the application.
// It injects the core application logic (the Applicator) into the command action.
func BuildCLI(application Applicator) *cli.Command {
	outputDirFlag := &cli.StringFlag{
		Name:    "output-dir",
		Aliases: []string{"o"},
		Value:   "data",
		Usage:   "directory the CSV tables are written to",
	}

	skipPublishFlag := &cli.BoolFlag{
		Name:  "skip-publish",
		Usage: "write the tables locally without syncing the bucket",
	}

	return &cli.Command{
		Name:  "donorwall",
		Usage: "Pull donor data from Salesforce, build the donor tables and publish them",
		Flags: []cli.Flag{outputDirFlag, skipPublishFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return application.Run(ctx, app.RunOptions{
				OutputDir:   c.String("output-dir"),
				SkipPublish: c.Bool("skip-publish"),
			})
		},
	}
}
