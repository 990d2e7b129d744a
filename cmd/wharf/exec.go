package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/wharf/pkg/config"
	"github.com/chazu/wharf/pkg/execrun"
)

type execFlags struct {
	Unordered     bool
	Concurrency   int
	StopOnFailure bool
	Include       []string
	Exclude       []string
	EnvFile       string
	Quiet         bool
}

var execOpts execFlags

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- command [args...]",
	Short: "Run a command in every package directory",
	Long: `Exec runs a command in each selected package directory. By default a
package waits for its dependencies and the dependents of a failed package
are skipped. Arguments may use {{.Name}}, {{.Version}} and {{.Path}}.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	f := execCmd.Flags()
	f.BoolVar(&execOpts.Unordered, "unordered", false, "Ignore dependency order")
	f.IntVar(&execOpts.Concurrency, "concurrency", 0, "Maximum concurrent commands (default from config)")
	f.BoolVar(&execOpts.StopOnFailure, "stop-on-failure", false, "Start no new commands after the first failure")
	f.StringSliceVar(&execOpts.Include, "include", nil, "Only packages matching these globs")
	f.StringSliceVar(&execOpts.Exclude, "exclude", nil, "Skip packages matching these globs")
	f.StringVar(&execOpts.EnvFile, "env-file", "", "Load environment variables from a dotenv file")
	f.BoolVarP(&execOpts.Quiet, "quiet", "q", false, "Only print the summary")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	s, err := load()
	if err != nil {
		return err
	}

	command, err := execrun.ParseCommand(args)
	if err != nil {
		return err
	}

	env, err := config.LoadEnv(execOpts.EnvFile)
	if err != nil {
		return err
	}

	ec := s.Config.Exec
	opts := execrun.Options{
		Unordered:      execOpts.Unordered,
		MaxConcurrency: ec.MaxConcurrency,
		StopOnFailure:  ec.StopOnFailure || execOpts.StopOnFailure,
		Include:        ec.Include,
		Exclude:        ec.Exclude,
		Env:            env,
	}
	if execOpts.Concurrency > 0 {
		opts.MaxConcurrency = execOpts.Concurrency
	}
	if len(execOpts.Include) > 0 {
		opts.Include = execOpts.Include
	}
	if len(execOpts.Exclude) > 0 {
		opts.Exclude = execOpts.Exclude
	}

	report, runErr := execrun.NewRunner(nil, opts).Run(cmd.Context(), s.Graph, command)
	if report == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if !execOpts.Quiet {
		for _, res := range report.Results {
			if res.Status == execrun.StatusSkipped {
				continue
			}
			fmt.Fprintf(out, "==> %s\n", res.Name)
			if output := strings.TrimRight(res.Output, "\n"); output != "" {
				fmt.Fprintln(out, output)
			}
		}
		fmt.Fprintln(out)
	}

	t := newTable(out, "NAME", "STATUS", "EXIT", "DURATION", "DETAIL")
	for _, res := range report.Results {
		exit, detail := "-", "-"
		switch res.Status {
		case execrun.StatusSkipped:
			detail = string(res.SkipReason)
		case execrun.StatusFailed:
			exit = strconv.Itoa(res.ExitCode)
			if res.Err != nil {
				detail = res.Err.Error()
			}
		default:
			exit = strconv.Itoa(res.ExitCode)
		}
		t.row(res.Name, string(res.Status), exit, res.Duration.Round(time.Millisecond).String(), detail)
	}
	if err := t.flush(); err != nil {
		return err
	}

	return finish(cmd.Context(), runErr, report.ExitCode())
}
