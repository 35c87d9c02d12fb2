// Package app runs the donor pipeline: authenticate against
// Salesforce, query the donor records, transform them into tables,
// write the tables to disk, and publish them to the bucket. A run is
// strictly sequential and fails fast: the first stage error aborts it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/okwatch/donorwall/apiclients/salesforce"
	"github.com/okwatch/donorwall/apiclients/slack"
	"github.com/okwatch/donorwall/config"
	"github.com/okwatch/donorwall/csvout"
	"github.com/okwatch/donorwall/publish"
	"github.com/okwatch/donorwall/transform"

	"github.com/google/uuid"
)

// Stage identifies a phase of a pipeline run.
type Stage int

const (
	StageIdle Stage = iota
	StageAuthenticating
	StageQuerying
	StageTransforming
	StageWriting
	StagePublishing
	StageDone
)

var stageName = map[Stage]string{
	StageIdle:           "idle",
	StageAuthenticating: "authenticating",
	StageQuerying:       "querying",
	StageTransforming:   "transforming",
	StageWriting:        "writing",
	StagePublishing:     "publishing",
	StageDone:           "done",
}

// String returns the Stage name string.
func (s Stage) String() string {
	return stageName[s]
}

// StageError reports the stage a run failed in and the cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// fetcher is the slice of the Salesforce client a run needs.
type fetcher interface {
	FetchRecordSet(ctx context.Context) (*salesforce.RecordSet, error)
}

// publisher mirrors the output directory to the bucket.
type publisher interface {
	Sync(ctx context.Context, dir string) (*publish.Result, error)
}

// notifier reports refused CRM requests to the operators.
type notifier interface {
	NotifyRefusedRequest(ctx context.Context, message string)
}

// App wires the pipeline stages together. The constructor fields exist
// so tests can substitute fakes for the external services.
type App struct {
	cfg *config.Config
	log *slog.Logger

	login        func(ctx context.Context, cfg config.SalesforceConfig, logger *slog.Logger) (fetcher, error)
	newPublisher func(cfg config.StorageConfig, logger *slog.Logger) publisher
	notify       notifier
	now          func() time.Time
}

// New builds an App wired to the real external services.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg: cfg,
		log: logger,
		login: func(ctx context.Context, sfCfg config.SalesforceConfig, logger *slog.Logger) (fetcher, error) {
			return salesforce.Login(ctx, sfCfg, logger)
		},
		newPublisher: func(storageCfg config.StorageConfig, logger *slog.Logger) publisher {
			return publish.New(storageCfg, logger)
		},
		notify: slack.New(cfg.Slack, logger),
		now:    time.Now,
	}
}

// RunOptions adjust a single run.
type RunOptions struct {
	OutputDir   string
	SkipPublish bool
}

// Run executes the pipeline once. Donation cutoffs use a single
// reference time taken at the start of the run. The returned error, if
// any, is a StageError naming the failing stage.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	runID := uuid.New().String()[:8]
	logger := a.log.With("run", runID)
	asOf := a.now()

	logger.Info("authenticating", "stage", StageAuthenticating)
	client, err := a.login(ctx, a.cfg.Salesforce, logger)
	if err != nil {
		return a.fail(ctx, logger, StageAuthenticating, err)
	}

	logger.Info("querying donor records", "stage", StageQuerying)
	rs, err := client.FetchRecordSet(ctx)
	if err != nil {
		return a.fail(ctx, logger, StageQuerying, err)
	}

	logger.Info("transforming", "stage", StageTransforming, "accounts", len(rs.Accounts))
	rows := transform.Summarize(rs, asOf)
	walls := transform.GivingWalls(rs, asOf)

	logger.Info("writing tables", "stage", StageWriting, "dir", opts.OutputDir, "walls", len(walls))
	if err := csvout.WriteTables(opts.OutputDir, rows, walls); err != nil {
		return a.fail(ctx, logger, StageWriting, err)
	}

	if opts.SkipPublish {
		logger.Info("publish skipped", "stage", StageDone)
		return nil
	}

	logger.Info("publishing", "stage", StagePublishing, "bucket", a.cfg.Storage.Bucket)
	result, err := a.newPublisher(a.cfg.Storage, logger).Sync(ctx, opts.OutputDir)
	if err != nil {
		return a.fail(ctx, logger, StagePublishing, err)
	}

	logger.Info("run complete",
		"stage", StageDone,
		"uploaded", result.Uploaded,
		"skipped", result.Skipped,
		"deleted", result.Deleted,
	)
	return nil
}

// fail wraps err with the failing stage. A refused CRM request is also
// reported to the operators; other failures only hit the logs.
func (a *App) fail(ctx context.Context, logger *slog.Logger, stage Stage, err error) error {
	logger.Error("run failed", "stage", stage, "error", err)
	var apiErr *salesforce.APIError
	if errors.As(err, &apiErr) {
		a.notify.NotifyRefusedRequest(ctx, apiErr.Message)
	}
	return &StageError{Stage: stage, Err: err}
}
