package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dofigen/dofigen/pkg/dofigen"
)

func newUpdateCommand(a *app) *cobra.Command {
	var (
		file      string
		images    bool
		resources bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the lock file",
		Long: `Update the lock file with the latest image digests and remote resources.

By default both the image digests and the remote resources are refreshed.`,
		Example: `  # Refresh everything
  dofigen update

  # Only resolve the image tags again
  dofigen update --images`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !images && !resources {
				images, resources = true, true
			}

			path, err := descriptionFile(file)
			if err != nil {
				return err
			}
			lf, err := loadLock(path)
			if err != nil {
				return err
			}
			c, err := a.newContext(cmd, dofigen.Options{
				UpdateImages:    images,
				UpdateResources: resources,
			}, lf)
			if err != nil {
				return err
			}
			defer c.Close()
			if c.Options().Offline {
				return fmt.Errorf("the lock file cannot be updated offline")
			}

			d, err := parseDescription(cmd, c, path)
			if err != nil {
				return err
			}
			if _, err := c.Pin(cmd.Context(), d); err != nil {
				return err
			}
			f, err := c.LockFile(d)
			if err != nil {
				return err
			}
			if err := f.Save(lf.path); err != nil {
				return err
			}

			a.tel.Logger.WithFields(map[string]any{
				"lock":      lf.path,
				"resources": len(f.Resources),
			}).Info("Lock file updated")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "description file, - for stdin")
	cmd.Flags().BoolVar(&images, "images", false, "update the image digests")
	cmd.Flags().BoolVar(&resources, "resources", false, "update the remote resources")

	return cmd
}
