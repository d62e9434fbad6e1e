package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dofigen/dofigen/pkg/dofigen"
	"github.com/dofigen/dofigen/pkg/lint"
	"github.com/dofigen/dofigen/pkg/lock"
	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/resource"
)

// stdio stands for standard input or output in file flags.
const stdio = "-"

// defaultFiles are looked up in order when no description file is given.
var defaultFiles = []string{
	"dofigen.yml",
	"dofigen.yaml",
	"dofigen.json",
	"dofigen.cue",
	"dofigen.star",
}

// descriptionFile returns the description to read: the flag value, or the
// first default file found in the working directory.
func descriptionFile(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	for _, name := range defaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no description file found, looked for %v", defaultFiles)
}

// lockState is the lock file of a run and where it lives.
type lockState struct {
	path string
	file *lock.File
}

// loadLock reads the lock file next to the description.
func loadLock(file string) (*lockState, error) {
	dir := "."
	if file != stdio {
		dir = filepath.Dir(file)
	}
	path := filepath.Join(dir, lock.DefaultFileName)
	f, err := lock.Load(path)
	if err != nil {
		return nil, err
	}
	return &lockState{path: path, file: f}, nil
}

// parseDescription resolves the description file, or standard input.
func parseDescription(cmd *cobra.Command, c *dofigen.Context, file string) (*model.Dofigen, error) {
	if file == stdio {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read standard input: %w", err)
		}
		return c.ParseText(cmd.Context(), string(data))
	}
	r, err := resource.Parse(file)
	if err != nil {
		return nil, err
	}
	return c.ParseFrom(cmd.Context(), r)
}

// writeOutput writes content to path, or to the command output for "-".
func writeOutput(cmd *cobra.Command, path, content string) error {
	if path == stdio {
		_, err := io.WriteString(cmd.OutOrStdout(), content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

var (
	errorPrefix   = color.New(color.FgRed, color.Bold).SprintFunc()
	warningPrefix = color.New(color.FgYellow, color.Bold).SprintFunc()
	pathStyle     = color.New(color.Faint).SprintFunc()
)

// printMessages prints lint messages with a colored severity and the dotted
// field path.
func printMessages(w io.Writer, messages []lint.Message) {
	for _, m := range messages {
		prefix := warningPrefix("warning")
		if m.Level == lint.Error {
			prefix = errorPrefix("error")
		}
		if len(m.Path) == 0 {
			fmt.Fprintf(w, "%s: %s\n", prefix, m.Text)
			continue
		}
		fmt.Fprintf(w, "%s[%s]: %s\n", prefix, pathStyle(m.PathString()), m.Text)
	}
}
