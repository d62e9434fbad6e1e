package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dofigen/dofigen/pkg/dofigen"
)

func newParseCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "parse [Dockerfile]",
		Short: "Convert a Dockerfile into a description",
		Long: `Convert a Dockerfile into a description.

Instructions without a description equivalent are reported as warnings and
skipped. The result is printed as YAML.`,
		Example: `  # Convert ./Dockerfile
  dofigen parse

  # Convert from stdin into dofigen.yml
  cat Dockerfile | dofigen parse - -o dofigen.yml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "Dockerfile"
			if len(args) > 0 {
				path = args[0]
			}

			var (
				data []byte
				err  error
			)
			if path == stdio {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(path)
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			c, err := a.newContext(cmd, dofigen.Options{Offline: true}, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			d, warnings, err := c.ParseDockerfile(cmd.Context(), string(data))
			if err != nil {
				return err
			}
			printMessages(cmd.ErrOrStderr(), warnings)

			out, err := c.Effective(d)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, out)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", stdio, "output description file, - for stdout")

	return cmd
}
