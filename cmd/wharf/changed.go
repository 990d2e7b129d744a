package main

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/chazu/wharf/pkg/changes"
)

type changedFlags struct {
	Since              string
	IncludeUncommitted bool
	Output             string
}

var changedOpts changedFlags

var changedCmd = &cobra.Command{
	Use:   "changed",
	Short: "List packages changed since their last release",
	Args:  cobra.NoArgs,
	RunE:  runChanged,
}

func init() {
	changedCmd.Flags().StringVar(&changedOpts.Since, "since", "", "Compare every package against this ref instead of its release tag")
	changedCmd.Flags().BoolVar(&changedOpts.IncludeUncommitted, "include-uncommitted", false, "Count uncommitted modifications")
	changedCmd.Flags().StringVarP(&changedOpts.Output, "output", "o", "table", "Output format: table, json or yaml")
	rootCmd.AddCommand(changedCmd)
}

func runChanged(cmd *cobra.Command, _ []string) error {
	s, err := load()
	if err != nil {
		return err
	}

	detector := newDetector(cmd, s, changedOpts.Since, changedOpts.IncludeUncommitted)
	cs, err := detector.Detect(cmd.Context(), s.Graph)
	if err != nil {
		return err
	}

	if changedOpts.Output != "table" {
		return printStructured(cmd.OutOrStdout(), changedOpts.Output, cs.Changes())
	}

	t := newTable(cmd.OutOrStdout(), "NAME", "VERSION", "REASON", "MARKER", "FILES")
	for _, c := range cs.Changes() {
		pkg, _ := s.Graph.Package(c.Name)
		t.row(c.Name, pkg.Version, string(c.Reason), orDash(c.Marker), orDash(strings.Join(c.Files, ",")))
	}
	return t.flush()
}

// newDetector opens the repository around the workspace root. An
// unavailable repository is passed on as a nil history so the detector's
// fallback applies.
func newDetector(cmd *cobra.Command, s *session, since string, includeUncommitted bool) *changes.Detector {
	logger := logr.FromContextOrDiscard(cmd.Context())

	var history changes.History
	if h, err := changes.OpenGitHistory(s.Workspace.Root); err == nil {
		history = h
	} else {
		logger.V(1).Info("repository unavailable", "error", err.Error())
	}

	opts := changes.Options{
		Since:              s.Config.Changes.Since,
		TagPattern:         s.Config.Changes.TagPattern,
		IgnorePatterns:     s.Config.Changes.Ignore,
		IncludeUncommitted: s.Config.Changes.IncludeUncommitted || includeUncommitted,
		AssumeAllChanged:   s.Config.Changes.AssumeAllChanged,
	}
	if since != "" {
		opts.Since = since
	}
	return changes.NewDetector(history, opts)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
