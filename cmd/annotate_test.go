package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uniprot-annotator/internal/app"
	"github.com/JakeFAU/uniprot-annotator/internal/config"
	"github.com/JakeFAU/uniprot-annotator/internal/extract"
	"github.com/JakeFAU/uniprot-annotator/internal/table"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func annotateCmdWithInput(t *testing.T, stdin string, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := newAnnotateCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, &out
}

func currentFlags(t *testing.T, cmd *cobra.Command) annotateFlags {
	t.Helper()
	fs := cmd.Flags()
	var flags annotateFlags
	var err error
	flags.input, err = fs.GetString("input")
	require.NoError(t, err)
	flags.column, err = fs.GetString("column")
	require.NoError(t, err)
	flags.stripPrefix, err = fs.GetString("strip-prefix")
	require.NoError(t, err)
	flags.truncate, err = fs.GetInt("truncate")
	require.NoError(t, err)
	flags.parallel, err = fs.GetBool("parallel")
	require.NoError(t, err)
	flags.workers, err = fs.GetInt("workers")
	require.NoError(t, err)
	flags.noPrompt, err = fs.GetBool("no-prompt")
	require.NoError(t, err)
	return flags
}

func TestResolveAnnotateOptionsPromptsLikeTheScraper(t *testing.T) {
	cmd, out := annotateCmdWithInput(t, "proteins.tsv\nEntry\nyes\nsp|\nyes\n")

	opts, input, err := resolveAnnotateOptions(cmd, currentFlags(t, cmd), defaultConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "proteins.tsv", input)
	assert.Equal(t, "Entry", opts.Column)
	assert.Equal(t, "sp|", opts.StripPrefix)
	assert.Equal(t, accessionWidth, opts.Truncate)
	assert.True(t, opts.Parallel)
	assert.Equal(t, "summary", opts.SummaryColumn)
	for _, q := range []string{questionInput, questionColumn, questionOther, questionPrefix, questionMulti} {
		assert.Contains(t, out.String(), q)
	}
}

func TestResolveAnnotateOptionsSkipsAnsweredQuestions(t *testing.T) {
	cmd, out := annotateCmdWithInput(t, "no\n", "--input", "p.txt", "--column", "Entry", "--parallel=false")

	opts, input, err := resolveAnnotateOptions(cmd, currentFlags(t, cmd), defaultConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "p.txt", input)
	assert.Empty(t, opts.StripPrefix)
	assert.Zero(t, opts.Truncate)
	assert.False(t, opts.Parallel)
	assert.Equal(t, questionOther, out.String())
}

func TestResolveAnnotateOptionsRejectsCSV(t *testing.T) {
	cmd, out := annotateCmdWithInput(t, "proteins.csv\n")

	_, _, err := resolveAnnotateOptions(cmd, currentFlags(t, cmd), defaultConfig(t))
	require.ErrorIs(t, err, table.ErrCommaSeparated)
	assert.Equal(t, questionInput, out.String())
}

func TestResolveAnnotateOptionsNoPrompt(t *testing.T) {
	cmd, _ := annotateCmdWithInput(t, "", "--no-prompt", "--input", "p.tsv")
	_, _, err := resolveAnnotateOptions(cmd, currentFlags(t, cmd), defaultConfig(t))
	require.Error(t, err)

	cmd, out := annotateCmdWithInput(t, "",
		"--no-prompt", "--input", "p.tsv", "--column", "Entry",
		"--strip-prefix", "sp|", "--truncate", "6", "--parallel", "--workers", "3")
	opts, input, err := resolveAnnotateOptions(cmd, currentFlags(t, cmd), defaultConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "p.tsv", input)
	assert.Equal(t, "sp|", opts.StripPrefix)
	assert.Equal(t, 6, opts.Truncate)
	assert.True(t, opts.Parallel)
	assert.Equal(t, 3, opts.Workers)
	assert.Empty(t, out.String())
}

// useTestRegistry keeps each command run's progress collectors off the global
// registry.
func useTestRegistry(t *testing.T) {
	t.Helper()
	previous := newApp
	newApp = func(ctx context.Context, e *env, progressOut io.Writer) (*app.App, error) {
		return app.Build(ctx, e.cfg, e.logger, app.Options{
			ProgressOut: progressOut,
			Registerer:  prometheus.NewRegistry(),
		})
	}
	t.Cleanup(func() { newApp = previous })
}

func entryServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if strings.HasSuffix(r.URL.Path, "/P69905") {
			_, _ = w.Write([]byte("<html>\n<body>\n<div>" + extract.FunctionMarker +
				"</span><h2>Function<sup>i</sup></h2><p>Involved in oxygen transport.</p></div>\n</body>\n</html>\n"))
			return
		}
		_, _ = w.Write([]byte("<html>\n<body></body>\n</html>\n"))
	}))
	t.Cleanup(server.Close)
	t.Setenv("ANNOTATOR_SOURCE_BASE_URL", server.URL+"/uniprot/")
	t.Setenv("ANNOTATOR_LOGGING_LEVEL", "error")
	return server
}

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnnotateCommandWritesAnnotatedTable(t *testing.T) {
	useTestRegistry(t)
	entryServer(t)

	dir := t.TempDir()
	input := filepath.Join(dir, "hits.txt")
	require.NoError(t, os.WriteFile(input, []byte("Entry\tscore\nsp|P69905|HBA_HUMAN\t9\nsp|Q9Y6K9|NEMO_HUMAN\t3\n"), 0o600))

	out, err := runRoot(t, "",
		"annotate", "--no-prompt", "--input", input, "--column", "Entry",
		"--strip-prefix", "sp|", "--truncate", "6", "--parallel", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Processing table...")
	assert.Contains(t, out, "1 found, 1 absent, 0 failed")
	assert.Contains(t, out, "100.0% ...Progress\r\nWrote ", "bar must finish before the result line")

	data, err := os.ReadFile(filepath.Join(dir, "hits_annotated.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Entry\tscore\tsummary", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "P69905\t9\t"))
	assert.Contains(t, lines[1], "oxygen transport")
	assert.Equal(t, "Q9Y6K9\t3\t", lines[2])
}

func TestAnnotateCommandRejectsCSV(t *testing.T) {
	useTestRegistry(t)
	entryServer(t)

	_, err := runRoot(t, "", "annotate", "--no-prompt", "--input", "hits.csv", "--column", "Entry")
	require.ErrorIs(t, err, table.ErrCommaSeparated)
}

func TestLookupCommandJSON(t *testing.T) {
	useTestRegistry(t)
	entryServer(t)

	out, err := runRoot(t, "", "lookup", "--json", "--strip-prefix", "sp|", "--truncate", "6", "sp|P69905|HBA_HUMAN", "Q9Y6K9")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"identifier":"P69905"`)
	assert.Contains(t, lines[0], `"status":"found"`)
	assert.Contains(t, lines[1], `"identifier":"Q9Y6K9"`)
	assert.Contains(t, lines[1], `"status":"absent"`)
}

func TestLookupCommandRequiresArgs(t *testing.T) {
	_, err := runRoot(t, "", "lookup")
	require.Error(t, err)
}
