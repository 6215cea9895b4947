package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-adp-assistant/internal/repository"
	"github.com/noah-isme/sma-adp-assistant/internal/seed"
	"github.com/noah-isme/sma-adp-assistant/pkg/database"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a demo database",
	Long: `Create the alumnos and datos_escolares tables and fill them with
generated students. The same --seed always produces the same roster.

Example:
  assistant-cli seed --db ./alumnos.db --count 300 --seed 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		seedValue, _ := cmd.Flags().GetInt64("seed")
		force, _ := cmd.Flags().GetBool("force")
		noGrades, _ := cmd.Flags().GetFloat64("no-grades")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.Database.Path
		if _, err := os.Stat(path); err == nil {
			if !force {
				return fmt.Errorf("%s already exists, use --force to replace it", path)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}

		db, err := database.NewSQLiteWritable(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer db.Close() //nolint:errcheck

		repo := repository.NewSeedRepository(db)
		if err := repo.CreateSchema(cmd.Context()); err != nil {
			return err
		}
		gen := seed.NewGenerator(seed.Options{
			Seed:          seedValue,
			Today:         time.Now(),
			School:        cfg.Certificates.SchoolName,
			CCT:           cfg.Certificates.SchoolCCT,
			NoGradesRatio: noGrades,
		})
		n, err := gen.Populate(cmd.Context(), repo, count)
		if err != nil {
			return fmt.Errorf("seeded %d students before failing: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d alumnos creados en %s\n", n, path)
		return nil
	},
}

func init() {
	seedCmd.Flags().Int("count", 200, "number of students")
	seedCmd.Flags().Int64("seed", 1, "generator seed")
	seedCmd.Flags().Bool("force", false, "replace an existing database")
	seedCmd.Flags().Float64("no-grades", 0.1, "share of students without calificaciones")
}
