package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/spf13/cobra"

	"github.com/chazu/wharf/pkg/config"
	"github.com/chazu/wharf/pkg/version"
)

// policyFlags select new versions; shared by version and publish
type policyFlags struct {
	PreID       string
	Force       []string
	Set         map[string]string
	Interactive bool
	Propagation string
}

func (f *policyFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.PreID, "preid", "", "Pre-release identifier for pre* bumps")
	cmd.Flags().StringSliceVar(&f.Force, "force", nil, "Include packages without changes ('*' for all)")
	cmd.Flags().StringToStringVar(&f.Set, "set", nil, "Explicit versions, e.g. --set core=2.0.0")
	cmd.Flags().BoolVarP(&f.Interactive, "interactive", "i", false, "Prompt for each changed package's version")
	cmd.Flags().StringVar(&f.Propagation, "propagation", "", "Minimum bump for dependents (default from config)")
}

// policy builds the version policy from an optional bump kind argument,
// the flags and the configuration
func (f *policyFlags) policy(cmd *cobra.Command, args []string, cfg *config.Config) (version.Policy, error) {
	p := version.Policy{
		Explicit: f.Set,
		Force:    f.Force,
		PreID:    cfg.Version.PreID,
	}
	if f.PreID != "" {
		p.PreID = f.PreID
	}

	propagation := cfg.Version.Propagation
	if f.Propagation != "" {
		propagation = f.Propagation
	}
	kind, err := version.ParseBumpKind(propagation)
	if err != nil {
		return version.Policy{}, err
	}
	p.Propagation = kind

	if len(args) > 0 {
		kind, err := version.ParseBumpKind(args[0])
		if err != nil {
			return version.Policy{}, err
		}
		p.Uniform = kind
	}

	if f.Interactive {
		p.Prompter = &linePrompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr(), preid: p.PreID}
	}
	return p, nil
}

// linePrompter reads one answer per line. An answer is a bump kind or a
// version.
type linePrompter struct {
	in    *bufio.Reader
	out   io.Writer
	preid string
}

func (p *linePrompter) Choose(_ context.Context, name string, current semver.Version) (semver.Version, error) {
	fmt.Fprintf(p.out, "%s (%s) new version or bump kind: ", name, current)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return semver.Version{}, fmt.Errorf("no answer for %s: %w", name, err)
	}
	answer := strings.TrimSpace(line)

	if kind, kerr := version.ParseBumpKind(answer); kerr == nil {
		return version.Bump(current, kind, p.preid)
	}
	v, err := semver.ParseTolerant(answer)
	if err != nil {
		return semver.Version{}, fmt.Errorf("invalid answer %q for %s: %w", answer, name, err)
	}
	return v, nil
}
