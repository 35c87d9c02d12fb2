package main

import (
	"context"
	"errors"
	"testing"

	"github.com/okwatch/donorwall/app"
)

// recordingApp captures the options the CLI hands to the application.
type recordingApp struct {
	opts   app.RunOptions
	called bool
	err    error
}

func (r *recordingApp) Run(ctx context.Context, opts app.RunOptions) error {
	r.called = true
	r.opts = opts
	return r.err
}

func TestBuildCLIDefaults(t *testing.T) {
	application := &recordingApp{}
	cmd := BuildCLI(application)

	if err := cmd.Run(context.Background(), []string{"donorwall"}); err != nil {
		t.Fatal(err)
	}
	if !application.called {
		t.Fatal("expected the application to run")
	}
	if got, want := application.opts.OutputDir, "data"; got != want {
		t.Errorf("got output dir %s, want %s", got, want)
	}
	if got, want := application.opts.SkipPublish, false; got != want {
		t.Errorf("got skip publish %t, want %t", got, want)
	}
}

func TestBuildCLIFlags(t *testing.T) {
	application := &recordingApp{}
	cmd := BuildCLI(application)

	err := cmd.Run(context.Background(), []string{"donorwall", "--output-dir", "out", "--skip-publish"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := application.opts.OutputDir, "out"; got != want {
		t.Errorf("got output dir %s, want %s", got, want)
	}
	if got, want := application.opts.SkipPublish, true; got != want {
		t.Errorf("got skip publish %t, want %t", got, want)
	}
}

func TestBuildCLIOutputDirAlias(t *testing.T) {
	application := &recordingApp{}
	cmd := BuildCLI(application)

	if err := cmd.Run(context.Background(), []string{"donorwall", "-o", "tables"}); err != nil {
		t.Fatal(err)
	}
	if got, want := application.opts.OutputDir, "tables"; got != want {
		t.Errorf("got output dir %s, want %s", got, want)
	}
}

func TestBuildCLIPropagatesRunError(t *testing.T) {
	wantErr := errors.New("salesforce unavailable")
	application := &recordingApp{err: wantErr}
	cmd := BuildCLI(application)

	err := cmd.Run(context.Background(), []string{"donorwall"})
	if !errors.Is(err, wantErr) {
		t.Errorf("got error %v, want %v", err, wantErr)
	}
}
