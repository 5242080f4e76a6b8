package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/recall/internal/config"
	"github.com/soyeahso/recall/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recall status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recall %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", err)
				return nil
			}

			h := cfg.History
			fmt.Fprintf(out, "History:  pairs=%d chars=%d tokens=%d tokenizer=%s\n",
				h.MaxHistoryPairs, h.MaxCharacters, h.MaxTokens, h.TokenizerModel)
			fmt.Fprintf(out, "Agent:    name=%s maxFunctionCalls=%d\n", cfg.Agent.Name, cfg.Agent.MaxFunctionCalls)

			m := cfg.Memory
			fmt.Fprintf(out, "Memory:   backend=%s collection=%s k=%d embedding=%s\n",
				m.Backend, m.CollectionName, m.K, orNone(m.EmbeddingModel))

			names := make([]string, 0, len(cfg.Models.Providers))
			for name, p := range cfg.Models.Providers {
				names = append(names, name+"("+p.Type+")")
			}
			slices.Sort(names)
			if len(names) > 0 {
				fmt.Fprintf(out, "Models:   %s\n", strings.Join(names, ", "))
			} else {
				fmt.Fprintln(out, "Models:   (none configured)")
			}
			roles := []struct {
				name string
				e    config.RoleEntry
			}{
				{"chat", cfg.Models.Roles.Chat},
				{"agent", cfg.Models.Roles.Agent},
				{"summary", cfg.Models.Roles.Summary},
				{"embedding", cfg.Models.Roles.Embedding},
			}
			for _, r := range roles {
				fmt.Fprintf(out, "  %-10s %s/%s\n", r.name, orNone(r.e.Provider), orNone(r.e.Model))
			}

			auth := "off"
			if cfg.Server.Token != "" {
				auth = "token"
			}
			fmt.Fprintf(out, "Server:   addr=%s auth=%s\n", cfg.Server.Addr, auth)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
