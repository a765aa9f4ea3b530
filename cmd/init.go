package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sheetbind/internal/config"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
	"github.com/zjrosen/sheetbind/internal/infrastructure/sqlite"
)

var (
	initSeed  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the workbook store",
	Long: `Write a default config file and create the workbook store.

The store is seeded from --seed (or workbook.seed) when given, otherwise
with a single empty worksheet. An existing config is kept unless --force
is set; an existing workbook is never overwritten.

Examples:
  sheetbind init
  sheetbind init --seed fixtures/invoice.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path := configPath()

		_, statErr := os.Stat(path)
		if initForce || os.IsNotExist(statErr) {
			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", path)
		}

		seed := cfg.Workbook.Seed
		if initSeed != "" {
			// Validate the fixture before recording it.
			if _, err := memdoc.LoadFixture(initSeed); err != nil {
				return err
			}
			if err := config.SetValue(path, "workbook.seed", initSeed); err != nil {
				return fmt.Errorf("recording seed: %w", err)
			}
			seed = initSeed
		}

		db, err := sqlite.NewDB(workbookPath())
		if err != nil {
			return fmt.Errorf("creating workbook store: %w", err)
		}
		defer func() { _ = db.Close() }()

		seeded, err := seedIfEmpty(cmd.Context(), db, fixtureSeed(seed), func() (*memdoc.Snapshot, error) {
			return defaultSnapshot(), nil
		})
		if err != nil {
			return err
		}
		if seeded {
			fmt.Fprintf(out, "created workbook %s\n", db.Path())
		} else {
			fmt.Fprintf(out, "workbook %s already exists\n", db.Path())
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initSeed, "seed", "", "fixture YAML to seed the workbook with")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
