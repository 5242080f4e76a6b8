package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soyeahso/recall/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect what the assistant knows about users",
	}
	cmd.AddCommand(newUserShowCmd())
	return cmd
}

func newUserShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [user-id]",
		Short: "Print a user's stored profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			id := defaultUser()
			if len(args) > 0 {
				id = args[0]
			}

			out := cmd.OutOrStdout()
			u, err := store.NewUserStore(db).Get(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) || (err == nil && u.Empty()) {
				fmt.Fprintf(out, "nothing stored for user %s\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "User: %s (updated %s)\n", id, u.UpdatedAt.Local().Format("2006-01-02 15:04"))
			fmt.Fprintln(out, u.Profile())
			return nil
		},
	}
}
