package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ma12/companion-api/pkg/store"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.LoadConfig()
			if err != nil {
				return err
			}
			log := rt.Logger().Sugar()
			if strings.EqualFold(cfg.Database.Driver, store.DriverMemory) {
				_, err = fmt.Fprintln(rt.Writer(), "memory driver selected, nothing to migrate")
				return err
			}
			// Open runs the embedded migrations for SQL backends.
			st, err := store.Open(cmd.Context(), cfg.Database, store.WithLogger(log))
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer func() { _ = st.Close() }()
			log.Infow("Schema is up to date", "driver", cfg.Database.Driver)
			_, err = fmt.Fprintln(rt.Writer(), "schema is up to date")
			return err
		},
	}
}
