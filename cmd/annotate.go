package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/annotator"
	"github.com/JakeFAU/uniprot-annotator/internal/config"
	"github.com/JakeFAU/uniprot-annotator/internal/table"
)

type annotateFlags struct {
	input       string
	column      string
	stripPrefix string
	truncate    int
	parallel    bool
	workers     int
	noPrompt    bool
}

// newAnnotateCmd creates the 'annotate' subcommand, which adds a summary column
// to a tab-delimited table.
func newAnnotateCmd() *cobra.Command {
	var flags annotateFlags
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Append UniProt function annotations to a table",
		Long: `Reads a tab-delimited table (.tsv, .txt), fetches the UniProt entry page for
every identifier in the chosen column, and writes <name>_annotated<ext> next to
the input with a summary column appended. Values not given as flags are asked
for interactively unless --no-prompt is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnnotateCommand(cmd, flags)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&flags.input, "input", "", "path to the tab-delimited input table")
	fs.StringVar(&flags.column, "column", "", "case-sensitive name of the UniProt identifier column")
	fs.StringVar(&flags.stripPrefix, "strip-prefix", "", "literal text removed from the start of each identifier")
	fs.IntVar(&flags.truncate, "truncate", 0, "keep only the first n characters of each identifier (0 disables)")
	fs.BoolVar(&flags.parallel, "parallel", false, "split the table into chunks and process them concurrently")
	fs.IntVar(&flags.workers, "workers", 0, "chunk count and pool size in parallel mode (0 = one per CPU)")
	fs.BoolVar(&flags.noPrompt, "no-prompt", false, "fail instead of asking for missing values")
	return cmd
}

func runAnnotateCommand(cmd *cobra.Command, flags annotateFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	opts, input, err := resolveAnnotateOptions(cmd, flags, e.cfg)
	if err != nil {
		return err
	}

	appInstance, err := newApp(cmd.Context(), e, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer closeApp(cmd.Context(), appInstance, e.logger)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nProcessing table...")
	fmt.Fprintln(out, "This may take a couple of minutes to fetch the summary data from UniProt")

	path, summary, err := appInstance.AnnotateFile(cmd.Context(), input, opts)
	if err != nil {
		return fmt.Errorf("annotate %s: %w", input, err)
	}
	e.logger.Debug("annotate command finished", zap.String("output", path))
	fmt.Fprintf(out, "Wrote %s (%d rows: %d found, %d absent, %d failed)\n",
		path, summary.Rows, summary.Found, summary.Absent, summary.Failed)
	return nil
}

// resolveAnnotateOptions merges flags over config and asks for whatever is
// still missing. Comma-separated inputs are rejected before any other question.
func resolveAnnotateOptions(
	cmd *cobra.Command,
	flags annotateFlags,
	cfg config.Config,
) (annotator.Options, string, error) {
	opts := annotator.Options{
		Column:        strings.TrimSpace(flags.column),
		StripPrefix:   cfg.Normalize.StripPrefix,
		Truncate:      cfg.Normalize.Truncate,
		Parallel:      cfg.Run.Parallel,
		Workers:       cfg.Run.Workers,
		SummaryColumn: cfg.Run.SummaryColumn,
	}
	changed := cmd.Flags().Changed
	if changed("strip-prefix") {
		opts.StripPrefix = flags.stripPrefix
	}
	if changed("truncate") {
		opts.Truncate = flags.truncate
	}
	if changed("parallel") {
		opts.Parallel = flags.parallel
	}
	if changed("workers") {
		opts.Workers = flags.workers
	}
	if opts.Truncate < 0 || opts.Workers < 0 {
		return opts, "", errors.New("--truncate and --workers must be >= 0")
	}
	input := strings.TrimSpace(flags.input)

	if flags.noPrompt {
		if input == "" || opts.Column == "" {
			return opts, "", errors.New("--input and --column are required with --no-prompt")
		}
		if _, err := table.DelimiterFor(input); err != nil {
			return opts, "", err
		}
		return opts, input, nil
	}

	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	var err error
	if input == "" {
		if input, err = p.ask(questionInput); err != nil {
			return opts, "", err
		}
		input = strings.TrimSpace(input)
	}
	if _, err := table.DelimiterFor(input); err != nil {
		return opts, "", err
	}
	if opts.Column == "" {
		column, err := p.ask(questionColumn)
		if err != nil {
			return opts, "", err
		}
		opts.Column = strings.TrimSpace(column)
	}
	if !changed("strip-prefix") && !changed("truncate") && opts.StripPrefix == "" && opts.Truncate == 0 {
		other, err := p.confirm(questionOther)
		if err != nil {
			return opts, "", err
		}
		if other {
			if opts.StripPrefix, err = p.ask(questionPrefix); err != nil {
				return opts, "", err
			}
			opts.Truncate = accessionWidth
		}
	}
	if !changed("parallel") && !opts.Parallel {
		if opts.Parallel, err = p.confirm(questionMulti); err != nil {
			return opts, "", err
		}
	}
	if input == "" || opts.Column == "" {
		return opts, "", errors.New("an input path and an identifier column are required")
	}
	return opts, input, nil
}
