package commands

import (
	"github.com/spf13/cobra"

	"github.com/dofigen/dofigen/pkg/dofigen"
)

func newEffectiveCommand(a *app) *cobra.Command {
	var (
		file   string
		output string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "effective",
		Short: "Print the effective description",
		Long: `Print the description with every extension merged in.

Remote resources are read from the lock file when it has them.`,
		Example: `  # Print the effective description of dofigen.yml
  dofigen effective

  # Write it to a file
  dofigen effective -f app.yml -o effective.yml`,
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
			c, err := a.newContext(cmd, dofigen.Options{Strict: strict}, lf)
			if err != nil {
				return err
			}
			defer c.Close()

			d, err := parseDescription(cmd, c, path)
			if err != nil {
				return err
			}
			out, err := c.Effective(d)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "description file, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", stdio, "output file, - for stdout")
	cmd.Flags().BoolVar(&strict, "strict", false, "strict decoding")

	return cmd
}
