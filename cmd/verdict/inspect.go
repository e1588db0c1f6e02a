package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/cmwaters/verdict/database"
	"github.com/cmwaters/verdict/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// inspectCommand lists the instances held by the configured store without
// starting a node.
func inspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List persisted voting instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return fmt.Errorf("no config found in context")
			}
			store, err := database.New(database.Config{
				Plugin:  cfg.StorePlugin,
				DataDir: cfg.DataDir,
				DSN:     cfg.PostgresDSN,
				Logger:  zerolog.Nop(),
			})
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			records, guards, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTRATEGY\tSTATUS\tINITIATOR\tTARGET\tDEADLINE")
			for _, rec := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID, rec.Strategy, rec.Status, rec.Initiator.Hex(), rec.Target.Hex(),
					rec.Deadline().At().UTC().Format("2006-01-02T15:04:05Z"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d instances, %d vote records\n", len(records), len(guards))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
