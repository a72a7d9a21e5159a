package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/annotator"
)

type lookupResult struct {
	Identifier string            `json:"identifier"`
	Status     annotation.Status `json:"status"`
	Text       string            `json:"text,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// newLookupCmd creates the 'lookup' subcommand for ad hoc identifiers.
func newLookupCmd() *cobra.Command {
	var (
		stripPrefix string
		truncate    int
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "lookup <id>...",
		Short: "Print the UniProt annotation for one or more identifiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("strip-prefix") {
				stripPrefix = e.cfg.Normalize.StripPrefix
			}
			if !cmd.Flags().Changed("truncate") {
				truncate = e.cfg.Normalize.Truncate
			}

			appInstance, err := newApp(cmd.Context(), e, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(cmd.Context(), appInstance, e.logger)

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for _, raw := range args {
				id := annotator.NormalizeIdentifier(raw, stripPrefix, truncate)
				outcome := appInstance.Worker().Lookup(cmd.Context(), id)
				if asJSON {
					if err := enc.Encode(lookupResult{
						Identifier: id,
						Status:     outcome.Status,
						Text:       outcome.Text,
						Reason:     outcome.Reason,
					}); err != nil {
						return fmt.Errorf("encode result: %w", err)
					}
					continue
				}
				detail := outcome.Text
				if outcome.Status != annotation.StatusFound {
					detail = outcome.Reason
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", id, outcome.Status, detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stripPrefix, "strip-prefix", "", "literal text removed from the start of each identifier")
	cmd.Flags().IntVar(&truncate, "truncate", 0, "keep only the first n characters of each identifier (0 disables)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per identifier")
	return cmd
}
