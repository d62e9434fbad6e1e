package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dofigen/dofigen/pkg/dofigen"
	"github.com/dofigen/dofigen/pkg/lint"
)

func newLintCommand(a *app) *cobra.Command {
	var (
		file     string
		dot      bool
		policies []string
		disable  []string
	)

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Lint a description",
		Long: `Lint a description without generating anything.

This command checks:
  - Builder dependencies, cycles and unused builders
  - Copies from paths hidden by cache mounts
  - Policies (built-in and custom Rego)

It fails when an error is reported.`,
		Example: `  # Lint dofigen.yml
  dofigen lint

  # Print the builder dependency graph in DOT format
  dofigen lint --dot | dot -Tsvg > builders.svg

  # Lint with custom policies, without the root user policy
  dofigen lint --policy ./policies --disable no-root-runtime`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := descriptionFile(file)
			if err != nil {
				return err
			}
			lf, err := loadLock(path)
			if err != nil {
				return err
			}
			c, err := a.newContext(cmd, dofigen.Options{Policies: policies}, lf)
			if err != nil {
				return err
			}
			defer c.Close()
			for _, name := range disable {
				if err := c.Policies().DisablePolicy(name); err != nil {
					return err
				}
			}

			d, err := parseDescription(cmd, c, path)
			if err != nil {
				return err
			}
			if dot {
				_, err := io.WriteString(cmd.OutOrStdout(), lint.Analyze(d).ToDOT())
				return err
			}

			messages, err := c.Lint(cmd.Context(), d)
			if err != nil {
				return err
			}
			printMessages(cmd.ErrOrStderr(), messages)

			errs := 0
			for _, m := range messages {
				if m.Level == lint.Error {
					errs++
				}
			}
			if errs > 0 {
				return fmt.Errorf("%d lint errors", errs)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "description file, - for stdin")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the builder dependency graph in DOT format")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "extra Rego policy files or directories")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "policies to disable")

	return cmd
}
