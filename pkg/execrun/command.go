package execrun

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/chazu/wharf/pkg/workspace"
)

// Command is an argv whose elements are templates over the package fields
// {{.Name}}, {{.Version}} and {{.Path}}
type Command struct {
	raw       []string
	templates []*template.Template
}

// ParseCommand parses every argv element as a template
func ParseCommand(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command cannot be empty")
	}

	templates := make([]*template.Template, 0, len(args))
	for i, arg := range args {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid command argument %q: %w", arg, err)
		}
		templates = append(templates, tmpl)
	}

	return &Command{raw: append([]string(nil), args...), templates: templates}, nil
}

// MustParseCommand is like ParseCommand but panics on error
func MustParseCommand(args ...string) *Command {
	c, err := ParseCommand(args)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the unrendered command
func (c *Command) String() string {
	return fmt.Sprintf("%q", c.raw)
}

// Render expands the templates for pkg
func (c *Command) Render(pkg *workspace.Package) ([]string, error) {
	argv := make([]string, 0, len(c.templates))
	for _, tmpl := range c.templates {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, pkg); err != nil {
			return nil, fmt.Errorf("failed to render command for %s: %w", pkg.Name, err)
		}
		argv = append(argv, buf.String())
	}
	if argv[0] == "" {
		return nil, fmt.Errorf("command for %s renders to an empty program name", pkg.Name)
	}
	return argv, nil
}
