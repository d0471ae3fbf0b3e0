package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"synthpanel/internal/app"
	"synthpanel/internal/config"
	"synthpanel/internal/store"
)

func (c *cli) newTargetsCmd() *cobra.Command {
	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage the reference target table",
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a target table from a .csv or .xlsx file into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := c.openSource(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			table, err := src.LoadTargets(cmd.Context())
			if err != nil {
				return err
			}

			return c.withApp(func(a *app.Application) error {
				if err := a.PanelService.ImportTargets(cmd.Context(), table); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d targets into the %s store\n", len(table), a.Config.Store.Driver)
				return nil
			})
		},
	}

	targetsCmd.AddCommand(importCmd)
	return targetsCmd
}

// openSource opens a read-only file store over path, reusing the configured
// column schema
func (c *cli) openSource(path string) (store.TableStore, error) {
	cfg := c.cfg.Store
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		cfg.Driver = config.DriverCSV
	case ".xlsx":
		cfg.Driver = config.DriverXLSX
	default:
		return nil, fmt.Errorf("unsupported target file %q: want .csv or .xlsx", path)
	}
	cfg.TargetsName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return store.Open(cfg, filepath.Dir(path), c.logger)
}
