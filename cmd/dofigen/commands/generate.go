package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dofigen/dofigen/pkg/dofigen"
	"github.com/dofigen/dofigen/pkg/generator"
	"github.com/dofigen/dofigen/pkg/resource"
)

type generateOptions struct {
	file     string
	output   string
	locked   bool
	strict   bool
	watch    bool
	policies []string
}

func newGenerateCommand(a *app) *cobra.Command {
	o := &generateOptions{}

	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen"},
		Short:   "Generate the Dockerfile and .dockerignore files",
		Long: `Generate the Dockerfile and .dockerignore files from a description.

This command:
  - Resolves the description and its extensions
  - Lints builder dependencies and evaluates policies
  - Pins every image to a digest using the lock file
  - Writes the Dockerfile, the .dockerignore and the lock file`,
		Example: `  # Generate from dofigen.yml in the current directory
  dofigen generate

  # Generate from a given file to stdout
  dofigen gen -f build/dofigen.yml -o -

  # Reproduce a build from the lock file only
  dofigen gen --locked

  # Regenerate whenever a description changes
  dofigen gen --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := descriptionFile(o.file)
			if err != nil {
				return err
			}
			if !o.watch {
				_, err := a.generate(cmd, file, o)
				return err
			}
			if file == stdio || o.output == stdio {
				return fmt.Errorf("--watch needs a description file and an output file")
			}
			return a.watch(cmd, file, func() ([]string, error) {
				return a.generate(cmd, file, o)
			})
		},
	}

	cmd.Flags().StringVarP(&o.file, "file", "f", "", "description file, - for stdin")
	cmd.Flags().StringVarP(&o.output, "output", "o", "Dockerfile", "output Dockerfile, - for stdout")
	cmd.Flags().BoolVar(&o.locked, "locked", false, "use the lock file without updating it")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "strict decoding, and fail on lint errors")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "regenerate when a description file changes")
	cmd.Flags().StringSliceVar(&o.policies, "policy", nil, "extra Rego policy files or directories")

	return cmd
}

// generate runs one generation and returns the local files it read.
func (a *app) generate(cmd *cobra.Command, file string, o *generateOptions) ([]string, error) {
	ctx := cmd.Context()
	files := []string{file}

	lf, err := loadLock(file)
	if err != nil {
		return files, err
	}
	c, err := a.newContext(cmd, dofigen.Options{
		Offline:  o.locked,
		Strict:   o.strict,
		Policies: o.policies,
	}, lf)
	if err != nil {
		return files, err
	}
	defer c.Close()

	d, err := parseDescription(cmd, c, file)
	files = localFiles(file, c.Used())
	if err != nil {
		return files, err
	}

	messages, err := c.Lint(ctx, d)
	if err != nil {
		return files, err
	}
	printMessages(cmd.ErrOrStderr(), messages)
	if err := c.Check(messages); err != nil {
		return files, err
	}

	if o.locked && lf.file.Image != "" {
		effective, err := c.Effective(d)
		if err != nil {
			return files, err
		}
		if effective != lf.file.Image {
			a.tel.Logger.Warnf("The description changed since %s was written", lf.path)
		}
	}

	pinned, err := c.Pin(ctx, d)
	if err != nil {
		return files, err
	}
	dockerfile, err := c.Generate(ctx, pinned)
	if err != nil {
		return files, err
	}
	if err := writeOutput(cmd, o.output, dockerfile); err != nil {
		return files, err
	}
	if o.output != stdio {
		ignore := filepath.Join(filepath.Dir(o.output), ".dockerignore")
		if err := writeOutput(cmd, ignore, c.GenerateIgnore(d)); err != nil {
			return files, err
		}
	}

	if !o.locked {
		f, err := c.LockFile(d)
		if err != nil {
			return files, err
		}
		if err := f.Save(lf.path); err != nil {
			return files, err
		}
	}

	a.tel.Logger.WithFields(map[string]any{
		"output": o.output,
		"stages": len(generator.StageOrder(d)),
	}).Info("Dockerfile generated")
	return files, nil
}

// localFiles lists the description file and the local resources it extends.
func localFiles(file string, used []resource.Resource) []string {
	files := []string{file}
	for _, r := range used {
		if r.Kind == resource.KindFile && r.Location != file {
			files = append(files, r.Location)
		}
	}
	return files
}
