package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/wharf/pkg/pipeline"
	"github.com/chazu/wharf/pkg/version"
)

type versionFlags struct {
	policyFlags
	Output string
}

var versionOpts versionFlags

var versionCmd = &cobra.Command{
	Use:   "version [major|minor|patch|premajor|preminor|prepatch|prerelease]",
	Short: "Plan the next version of every changed package and its dependents",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVersion,
}

func init() {
	versionOpts.bind(versionCmd)
	versionCmd.Flags().StringVarP(&versionOpts.Output, "output", "o", "table", "Output format: table, json or yaml")
	rootCmd.AddCommand(versionCmd)
}

// planOutput is the structured form of a plan
type planOutput struct {
	Packages           []version.Entry             `json:"packages"`
	RequirementUpdates []version.RequirementUpdate `json:"requirementUpdates,omitempty"`
}

func runVersion(cmd *cobra.Command, args []string) error {
	s, err := load()
	if err != nil {
		return err
	}

	policy, err := versionOpts.policy(cmd, args, s.Config)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Options{
		Detector: newDetector(cmd, s, "", false),
		Policy:   policy,
	})
	result, err := p.Run(cmd.Context(), s.Workspace)
	if err != nil {
		return err
	}

	plan := result.Plan
	if versionOpts.Output != "table" {
		return printStructured(cmd.OutOrStdout(), versionOpts.Output, planOutput{
			Packages:           plan.Entries(),
			RequirementUpdates: plan.RequirementUpdates,
		})
	}

	t := newTable(cmd.OutOrStdout(), "NAME", "OLD", "NEW", "REASON", "CAUSE")
	for _, e := range plan.Entries() {
		t.row(e.Name, e.Old.String(), e.New.String(), string(e.Reason), orDash(e.Cause))
	}
	if err := t.flush(); err != nil {
		return err
	}

	if len(plan.RequirementUpdates) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		t := newTable(cmd.OutOrStdout(), "PACKAGE", "DEPENDENCY", "OLD", "NEW")
		for _, u := range plan.RequirementUpdates {
			t.row(u.Package, u.Dependency, u.Old, u.New)
		}
		return t.flush()
	}
	return nil
}
