package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/live"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/storage/backends"
)

// DatabaseOptions are the flags shared by commands that open a database.
type DatabaseOptions struct {
	DB        string
	SchemaDir string
	Backend   string
}

func (o *DatabaseOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.DB, "db", "", "database file path (required)")
	cmd.Flags().StringVar(&o.SchemaDir, "schema", "./schema", "CUE schema directory")
	cmd.Flags().StringVar(&o.Backend, "backend", backends.SQLite, fmt.Sprintf("storage backend %v", backends.Names))
	_ = cmd.MarkFlagRequired("db")
}

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	DatabaseOptions
}

// ExecSummary is the final line of exec output.
type ExecSummary struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <requests.yaml>",
		Short: "Execute write requests against a database",
		Long: `Execute a YAML list of write requests in order.

Each request is committed on its own; a failed request does not stop the
ones after it. Prints one line per committed event or failure.

Examples:
  livekv exec --db ./data.db --schema ./schema requests.yaml
  livekv exec --db ./data.db --backend bolt --format json requests.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), opts, args[0], cmd)
		},
	}

	opts.register(cmd)
	return cmd
}

func runExec(ctx context.Context, opts *ExecOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reqs, err := readRequests(path)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Loaded %d request(s) from %s", len(reqs), path)

	adapter, err := openDatabase(opts.Backend, opts.DB, opts.SchemaDir)
	if err != nil {
		return err
	}
	defer adapter.Close()

	driver := live.New(adapter, live.WithLogger(newLogger(opts.RootOptions, formatter.GetErrWriter())))

	summary := ExecSummary{}
	for _, req := range reqs {
		ev, err := driver.Execute(ctx, req)
		summary.Executed++
		if err != nil {
			summary.Failed++
			if werr, ok := mutation.AsWriteError(err); ok {
				if err := formatter.Line("failure", failureObject(werr)); err != nil {
					return err
				}
				continue
			}
			return WrapExitError(ExitCommandError, "exec failed", err)
		}
		if err := formatter.Line("event", ev.Object()); err != nil {
			return err
		}
	}
	driver.Stop()

	if formatter.Format != "json" {
		fmt.Fprintf(formatter.Writer, "%d executed, %d failed\n", summary.Executed, summary.Failed)
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d request(s) failed", summary.Failed, summary.Executed))
	}
	return nil
}

// readRequests decodes a request file. A malformed file is a command
// error carrying ErrCodeRequests.
func readRequests(path string) ([]mutation.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeRequests+": cannot open request file", err)
	}
	defer f.Close()

	reqs, err := mutation.DecodeRequests(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeRequests+": invalid request file", err)
	}
	return reqs, nil
}

// failureObject renders a write failure as {code, query, request_id, error}.
func failureObject(werr *mutation.WriteError) ir.Object {
	return ir.Object{
		"code":       ir.String(string(werr.Code())),
		"query":      werr.Query.Object(),
		"request_id": ir.String(werr.RequestID),
		"error":      ir.String(werr.Error()),
	}
}
