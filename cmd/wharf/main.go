/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chazu/wharf/pkg/config"
	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/metrics"
	"github.com/chazu/wharf/pkg/workspace"
)

// Flags shared by every command
type globalFlags struct {
	Metadata    string
	Config      string
	Verbosity   int
	MetricsFile string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "wharf",
	Short:         "Release orchestration for multi-package workspaces",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger(flags.Verbosity)
		if err != nil {
			return err
		}
		cmd.SetContext(logr.NewContext(cmd.Context(), logger))
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.Metadata, "metadata", "wharf.json", "Resolved workspace metadata document (YAML or JSON)")
	pf.StringVar(&flags.Config, "config", "", "Configuration file (default: wharf.cue in the workspace root)")
	pf.CountVarP(&flags.Verbosity, "verbose", "v", "Increase log verbosity")
	pf.StringVar(&flags.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
}

func main() {
	os.Exit(run())
}

// run executes the command line and returns the process exit status
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if merr := writeMetrics(); merr != nil {
		fmt.Fprintln(os.Stderr, "Error:", merr)
	}
	if err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	return 0
}

// exitError ends the process with a status and no further message
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) ExitCode() int {
	return e.code
}

// exitWith returns nil for status 0 and an *exitError otherwise
func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

// finish maps the outcome of a run to the command's result. Errors other
// than the cancellation are returned as is; a cancelled run exits 130.
func finish(ctx context.Context, runErr error, code int) error {
	if runErr != nil && !errors.Is(runErr, ctx.Err()) {
		return runErr
	}
	if ctx.Err() != nil {
		return exitWith(130)
	}
	return exitWith(code)
}

// newLogger builds a development zap logger writing to stderr. Each -v
// enables one more logr verbosity level.
func newLogger(verbosity int) (logr.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}

	z, err := cfg.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("failed to create logger: %w", err)
	}
	return zapr.NewLogger(z), nil
}

func writeMetrics() error {
	if flags.MetricsFile == "" {
		return nil
	}
	if err := metrics.WriteToTextfile(flags.MetricsFile); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// session holds what every command loads before doing its work
type session struct {
	Workspace *workspace.Workspace
	Graph     *graph.DependencyGraph
	Config    *config.Config
}

// load reads the metadata document, builds the graph and resolves the
// configuration
func load() (*session, error) {
	ws, err := workspace.LoadFile(flags.Metadata)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(ws)
	if err != nil {
		return nil, err
	}

	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	path := flags.Config
	if path == "" {
		path = filepath.Join(ws.Root, config.DefaultFile)
	}
	cfg, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	return &session{Workspace: ws, Graph: g, Config: cfg}, nil
}

// resolve makes p absolute relative to the workspace root
func (s *session) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Workspace.Root, p)
}
