package reset

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/datastore"
)

// Command creates the reset command for recovering abandoned claims.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return pending sources to the unclaimed pool",
		Long: `Return every pending source to unclaimed. Use after a crashed or killed
process run left claims behind; never run while workers are active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd, settings)
		},
	}

	return cmd
}

func runReset(cmd *cobra.Command, settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no index backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ResetPending(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("reset %d pending sources\n", n)
	return nil
}
