package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/live"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
	"github.com/roach88/livekv/internal/storage"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	DatabaseOptions
	Store       string
	Index       string
	Kind        string
	Key         string // JSON key value; bare text is taken as a string
	Requests    string // optional request file applied after subscribing
	MetricsAddr string
	Limit       int // stop after this many emissions (0 = until interrupted)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a live query's results as they change",
		Long: `Subscribe to a live query and print every result it emits.

The first line is the current result; a new line follows each write that
changes it. Write failures that reach the database are printed too.

Examples:
  livekv watch --db ./data.db --store items
  livekv watch --db ./data.db --store items --index tag --key '"x"' --kind count
  livekv watch --db ./data.db --store items --requests writes.yaml --limit 3
  livekv watch --db ./data.db --store items --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.Store, "store", "", "store to watch (required)")
	cmd.Flags().StringVar(&opts.Index, "index", "", "index to query instead of the primary key")
	cmd.Flags().StringVar(&opts.Kind, "kind", string(query.KindGetAll), "query kind (get|getAll|getAllKeys|getKey|count)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "restrict the query to one key (JSON)")
	cmd.Flags().StringVar(&opts.Requests, "requests", "", "YAML request file to apply once subscribed")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "exit after this many emissions")
	_ = cmd.MarkFlagRequired("store")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	kind, err := query.ParseKind(opts.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --kind", err)
	}
	if kind == query.KindQuery {
		return NewExitError(ExitCommandError, "invalid --kind: query needs a filter and cannot be watched from the command line")
	}

	var key ir.Value
	if opts.Key != "" {
		if key, err = parseKey(opts.Key); err != nil {
			return WrapExitError(ExitCommandError, "invalid --key", err)
		}
	}

	var reqs []mutation.Request
	if opts.Requests != "" {
		if reqs, err = readRequests(opts.Requests); err != nil {
			return err
		}
	}

	adapter, err := openDatabase(opts.Backend, opts.DB, opts.SchemaDir)
	if err != nil {
		return err
	}
	defer adapter.Close()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	metrics := live.NewMetrics()
	driver := live.New(adapter, live.WithLogger(logger), live.WithMetrics(metrics))

	if opts.MetricsAddr != "" {
		shutdown, err := serveMetrics(opts.MetricsAddr, metrics, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer shutdown()
	}

	runDone := make(chan error, 1)
	applied := make(chan struct{})
	go func() { runDone <- driver.Run(ctx) }()
	defer func() {
		cancel()
		<-applied
		if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("driver stopped with error", "error", err)
		}
	}()

	view := watchView(driver, opts, kind, key)
	logger.Debug("watching", "query", view.Query().String(), "fingerprint", view.Fingerprint())

	sub := view.Subscribe(ctx)
	defer sub.Close()
	failures := driver.Errors(ctx)

	go func() {
		defer close(applied)
		if len(reqs) > 0 {
			applyRequests(ctx, driver, reqs, logger)
		}
	}()

	label := view.Query().String()
	emitted := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case werr, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			if err := formatter.Line("failure", failureObject(werr)); err != nil {
				return err
			}

		case u, ok := <-sub.C():
			if !ok {
				return nil
			}
			if u.Err != nil {
				_ = formatter.Line("error", ir.Object{
					"view":  ir.String(label),
					"code":  ir.String(errorCode(u.Err)),
					"error": ir.String(u.Err.Error()),
				})
				return WrapExitError(ExitFailure, "view failed", u.Err)
			}
			if err := formatter.Line("emit", ir.Object{"view": ir.String(label), "value": u.Value}); err != nil {
				return err
			}
			emitted++
			if opts.Limit > 0 && emitted >= opts.Limit {
				return nil
			}
		}
	}
}

// watchView resolves the query named by the flags. A nil key selects the
// whole store or index.
func watchView(d *live.Driver, opts *WatchOptions, kind query.Kind, key ir.Value) *live.View {
	store := d.Store(opts.Store)

	var rh *live.RangeHandle
	if key != nil {
		if opts.Index != "" {
			rh = store.Index(opts.Index).Only(key)
		} else {
			rh = store.Only(key)
		}
	} else if opts.Index != "" {
		rh = store.Index(opts.Index).All()
	} else {
		rh = store.All()
	}
	return rh.View(kind)
}

// parseKey reads a key flag as JSON, falling back to a bare string.
func parseKey(s string) (ir.Value, error) {
	v, err := ir.ParseJSON([]byte(s))
	if err != nil {
		return ir.String(s), nil
	}
	if !ir.IsKey(v) {
		return nil, fmt.Errorf("%s is not a valid key", s)
	}
	return v, nil
}

// applyRequests feeds reqs to the driver. Requests run concurrently, so
// their relative order is not preserved.
func applyRequests(ctx context.Context, d *live.Driver, reqs []mutation.Request, logger *slog.Logger) {
	ch := make(chan mutation.Request)
	go func() {
		defer close(ch)
		for _, req := range reqs {
			select {
			case ch <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := d.Apply(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("applying requests stopped", "error", err)
		return
	}
	logger.Debug("requests applied", "count", len(reqs))
}

// metricsHandler exposes the driver metrics on a dedicated registry.
func metricsHandler(m *live.Metrics) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux, nil
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, m *live.Metrics, logger *slog.Logger) (func(), error) {
	handler, err := metricsHandler(m)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// errorCode returns the storage error code of err, or TRANSPORT.
func errorCode(err error) string {
	if code := storage.CodeOf(err); code != "" {
		return string(code)
	}
	return string(storage.CodeTransport)
}
