package release

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chazu/wharf/pkg/execrun"
	"github.com/chazu/wharf/pkg/workspace"
)

// DefaultTransientPatterns match publish tool output that indicates the
// registry has not caught up yet or is briefly unavailable
var DefaultTransientPatterns = []string{
	`(?i)no matching package named`,
	`(?i)failed to select a version for the requirement`,
	`(?i)not found in (the )?registry`,
	`(?i)\b(429|502|503|504)\b`,
	`(?i)timed out|connection reset`,
}

// CommandPublisher publishes by running an external command in the package
// directory. A non-zero exit is transient if its output matches one of the
// transient patterns and permanent otherwise.
type CommandPublisher struct {
	command   *execrun.Command
	runner    execrun.ProcessRunner
	env       []string
	transient []*regexp.Regexp
}

// NewCommandPublisher creates a command publisher. A nil runner runs
// commands on the host; nil patterns use DefaultTransientPatterns.
func NewCommandPublisher(command *execrun.Command, runner execrun.ProcessRunner, transientPatterns []string, env []string) (*CommandPublisher, error) {
	if command == nil {
		return nil, fmt.Errorf("publish command cannot be nil")
	}
	if runner == nil {
		runner = execrun.OSProcessRunner{}
	}
	if transientPatterns == nil {
		transientPatterns = DefaultTransientPatterns
	}

	compiled := make([]*regexp.Regexp, 0, len(transientPatterns))
	for _, p := range transientPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid transient pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &CommandPublisher{command: command, runner: runner, env: env, transient: compiled}, nil
}

// Publish runs the publish command for target
func (p *CommandPublisher) Publish(ctx context.Context, target Target) error {
	pkg := &workspace.Package{Name: target.Name, Version: target.Version, Path: target.Path}
	argv, err := p.command.Render(pkg)
	if err != nil {
		return Permanent(err)
	}

	res, err := p.runner.Run(ctx, target.Path, argv, p.env)
	if ctx.Err() != nil {
		return Transient(fmt.Errorf("publish of %s interrupted: %w", target.Name, ctx.Err()))
	}
	if err != nil {
		return Permanent(err)
	}
	if res.ExitCode == 0 {
		return nil
	}

	output := string(res.Output)
	cmdErr := fmt.Errorf("%w: %s", &execrun.CommandError{Name: target.Name, ExitCode: res.ExitCode}, lastLine(output))
	for _, re := range p.transient {
		if re.MatchString(output) {
			return Transient(cmdErr)
		}
	}
	return Permanent(cmdErr)
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
