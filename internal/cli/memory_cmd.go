package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/store"
	"github.com/soyeahso/recall/internal/vectormem"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and rebuild long-term memory",
	}

	cmd.AddCommand(newMemorySearchCmd())
	cmd.AddCommand(newMemoryStatsCmd())
	cmd.AddCommand(newMemoryReindexCmd())
	return cmd
}

func newMemorySearchCmd() *cobra.Command {
	var (
		k      int
		userID string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the memories most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if k <= 0 {
				k = cfg.Memory.K
			}
			var opts []vectormem.QueryOption
			if userID != "" {
				opts = append(opts, vectormem.WithUser(userID))
			}

			res := a.memory.Query(ctx, strings.Join(args, " "), k, opts...)
			out := cmd.OutOrStdout()
			if len(res) == 0 {
				fmt.Fprintln(out, "no memories found")
				return nil
			}
			for _, se := range res {
				fmt.Fprintf(out, "%.3f  %s  %s  %s\n",
					se.Score, se.Entry.CreatedAt.Local().Format("2006-01-02 15:04"),
					se.Entry.SourceSession, se.Entry.SummaryText)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of results (default memory.k)")
	cmd.Flags().StringVar(&userID, "user", "", "only search this user's memories")
	return cmd
}

func newMemoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the size of the memory collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			backend, err := openBackend(ctx, cfg.Memory, cfg.Memory.CollectionName, db)
			if err != nil {
				return err
			}
			defer backend.Close()

			n, err := backend.Count(ctx)
			if err != nil {
				return fmt.Errorf("counting memories: %w", err)
			}
			schema, err := db.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend=%s collection=%s entries=%d schema=v%d\n",
				cfg.Memory.Backend, cfg.Memory.CollectionName, n, schema)
			return nil
		},
	}
}

func newMemoryReindexCmd() *cobra.Command {
	var (
		userID string
		into   string
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed a user's logged summaries into a new collection",
		Long: "Reads every summary logged for a user and embeds it again into the collection " +
			"named by --into, for example after changing the embedding model. Memory is " +
			"append-only, so the target must not be the live collection.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if into == "" || into == cfg.Memory.CollectionName {
				return fmt.Errorf("--into must name a collection other than %q", cfg.Memory.CollectionName)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sums, err := a.chats.Summaries(ctx, userID)
			if err != nil {
				return fmt.Errorf("reading summaries: %w", err)
			}
			if len(sums) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no summaries logged for user %s\n", userID)
				return nil
			}

			backend, err := openBackend(ctx, cfg.Memory, into, a.db)
			if err != nil {
				return err
			}
			target := vectormem.New(backend, a.gateway, memoryConfig(cfg.Memory, into), a.metrics, log)
			defer target.Close()

			ok, failed := reindex(ctx, target, summariesToEntries(sums))
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d of %d summaries into %s\n", ok, ok+failed, into)
			if failed > 0 {
				return fmt.Errorf("%d summaries could not be stored", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", defaultUser(), "user whose summaries are reindexed")
	cmd.Flags().StringVar(&into, "into", "", "target collection name")
	return cmd
}

type bulkInserter interface {
	InsertMany(ctx context.Context, entries []domain.MemoryEntry) []error
}

func reindex(ctx context.Context, target bulkInserter, entries []domain.MemoryEntry) (ok, failed int) {
	for i, err := range target.InsertMany(ctx, entries) {
		if err != nil {
			log.Warn().Err(err).Str("entry", entries[i].ID).Msg("reindex insert failed")
			failed++
			continue
		}
		ok++
	}
	return ok, failed
}

// summariesToEntries turns logged summaries into fresh memory entries
// that keep the original session and timestamp.
func summariesToEntries(sums []store.Summary) []domain.MemoryEntry {
	entries := make([]domain.MemoryEntry, 0, len(sums))
	for _, s := range sums {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		entries = append(entries, domain.MemoryEntry{
			ID:            ulid.Make().String(),
			UserID:        s.UserID,
			SourceSession: s.SessionID,
			SummaryText:   s.Text,
			CreatedAt:     s.Timestamp,
		})
	}
	return entries
}
