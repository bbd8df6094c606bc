package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const promptPreview = 40

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "List saved transcripts or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if !cfg.Storage.Enabled {
				return fmt.Errorf("transcript storage is disabled (set storage.enabled or CONVSTREAM_STORAGE_ENABLED)")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if len(args) == 1 {
				t, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), t)
			}

			list, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tPROVIDER\tMODEL\tTOKENS\tSTOP\tPROMPT")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					t.ID, t.CreatedAt.Local().Format(time.DateTime), t.Provider, t.Model,
					t.Usage.TotalTokens, t.StopReason, preview(t.Prompt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transcripts to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print transcripts as JSON")
	return cmd
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > promptPreview {
		return string(r[:promptPreview-3]) + "..."
	}
	return s
}
