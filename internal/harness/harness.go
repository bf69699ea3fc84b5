package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/live"
	"github.com/roach88/livekv/internal/mutation"
	"github.com/roach88/livekv/internal/query"
	"github.com/roach88/livekv/internal/storage"
	"github.com/roach88/livekv/internal/storage/backends"
)

// Default timings. Expect steps wait up to Timeout for an update;
// expect_none steps wait Quiet for silence.
const (
	DefaultTimeout = 2 * time.Second
	DefaultQuiet   = 100 * time.Millisecond
)

// Options tunes a run.
type Options struct {
	Timeout time.Duration
	Quiet   time.Duration
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Quiet <= 0 {
		o.Quiet = DefaultQuiet
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	}
	return o
}

// Harness holds the state of one scenario run.
type Harness struct {
	driver  *live.Driver
	adapter storage.Adapter
	subs    map[string]*live.Subscription
	opts    Options
	result  *Result
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(context.Background(), scenario, Options{})
}

// RunWithOptions executes a scenario and returns the result.
//
// Each scenario runs against a fresh database in a temporary directory.
// Execution flow:
//  1. Build the schema and open the adapter
//  2. Start the driver's dispatch loop
//  3. Execute seed writes
//  4. Execute steps, recording the trace
//  5. Evaluate assertions
//
// Expectation mismatches are reported in the result; the returned error is
// reserved for scenarios that cannot run at all.
func RunWithOptions(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	s, err := scenario.Schema.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}

	dir, err := os.MkdirTemp("", "livekv-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	adapter, err := backends.Open(scenario.Backend, filepath.Join(dir, "scenario.db"), s)
	if err != nil {
		return nil, err
	}
	defer adapter.Close()

	d := live.New(adapter,
		live.WithLogger(opts.Logger),
		live.WithRequestIDs(&mutation.CounterGenerator{}),
	)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	h := &Harness{
		driver:  d,
		adapter: adapter,
		subs:    make(map[string]*live.Subscription),
		opts:    opts,
		result:  NewResult(),
	}
	defer h.closeSubscriptions()

	if err := h.executeSeed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to execute seed: %w", err)
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h.result, scenario.Assertions, adapter) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) executeSeed(ctx context.Context, seed []mutation.RequestSpec) error {
	for i, spec := range seed {
		req, err := spec.Request()
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		ev, err := h.driver.Execute(ctx, req)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		h.result.AddTrace(TraceEvent{Type: TraceSeed, Value: ev.Object()})
	}
	return h.driver.Flush(ctx)
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step) error {
	switch {
	case step.Subscribe != nil:
		return h.subscribe(ctx, n, step.Subscribe)
	case step.Write != nil:
		return h.write(ctx, n, step.Write)
	case step.Expect != nil:
		h.expect(n, step.Expect)
	case step.ExpectNone != nil:
		h.expectNone(n, step.ExpectNone.View)
	case step.ExpectError != nil:
		h.expectError(n, step.ExpectError)
	}
	return nil
}

func (h *Harness) subscribe(ctx context.Context, n int, sub *SubscribeStep) error {
	view, err := h.resolve(sub)
	if err != nil {
		return err
	}
	h.subs[sub.ID] = view.Subscribe(ctx)
	h.result.AddTrace(TraceEvent{
		Step:  n,
		Type:  TraceSubscribe,
		View:  sub.ID,
		Value: ir.String(describe(view.Query(), sub)),
	})
	return nil
}

// describe renders a subscribed query for the trace. Filter identities
// differ between runs, so where queries render their field constraints.
func describe(q query.Query, sub *SubscribeStep) string {
	if sub.Where == nil {
		return q.String()
	}
	where, err := ir.ObjectFromGo(sub.Where)
	if err != nil {
		return q.Store + " query"
	}
	return q.Store + " query where " + render(where)
}

// resolve maps a subscribe step onto the driver's handles.
func (h *Harness) resolve(sub *SubscribeStep) (*live.View, error) {
	store := h.driver.Store(sub.Store)

	if sub.Where != nil {
		where, err := ir.ObjectFromGo(sub.Where)
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		return store.Query(whereFilter(where)), nil
	}

	kind := query.KindGetAll
	if sub.Kind != "" {
		k, err := query.ParseKind(sub.Kind)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	var rng *ir.KeyRange
	switch {
	case sub.Key != nil:
		key, err := ir.FromGo(sub.Key)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		only := ir.Only(key)
		rng = &only
	case sub.Range != nil:
		kr, err := sub.Range.KeyRange()
		if err != nil {
			return nil, fmt.Errorf("range: %w", err)
		}
		rng = &kr
	}

	var rh *live.RangeHandle
	switch {
	case sub.Index != "" && rng != nil:
		rh = store.Index(sub.Index).Range(*rng)
	case sub.Index != "":
		rh = store.Index(sub.Index).All()
	case rng != nil:
		rh = store.Range(*rng)
	default:
		rh = store.All()
	}
	return rh.View(kind), nil
}

// whereFilter accepts records whose fields equal every field of where.
func whereFilter(where ir.Object) *query.Filter {
	return query.NewFilter("where", func(rec ir.Object) bool {
		for field, want := range where {
			got, ok := ir.Lookup(rec, field)
			if !ok || !ir.Equal(got, want) {
				return false
			}
		}
		return true
	})
}

func (h *Harness) write(ctx context.Context, n int, step *WriteStep) error {
	req, err := step.Request()
	if err != nil {
		return err
	}

	ev, err := h.driver.Execute(ctx, req)
	// Views see the outcome before the next step runs.
	if ferr := h.driver.Flush(ctx); ferr != nil {
		return ferr
	}
	if err == nil {
		h.result.AddTrace(TraceEvent{Step: n, Type: TraceWrite, Value: ev.Object()})
		if step.Fails != "" {
			h.result.AddError(fmt.Sprintf("step %d: %s %s succeeded, expected %s", n, req.Op, req.Store, step.Fails))
		}
		return nil
	}

	werr, ok := mutation.AsWriteError(err)
	if !ok {
		return err
	}
	code := string(werr.Code())
	h.result.AddTrace(TraceEvent{Step: n, Type: TraceWriteError, Value: werr.Query.Object(), Code: code})
	if step.Fails != code {
		h.result.AddError(fmt.Sprintf("step %d: %s %s failed with %s: %v", n, req.Op, req.Store, code, werr.Cause))
	}
	return nil
}

// next waits for the next update of a view.
func (h *Harness) next(view string) (live.Update, bool, bool) {
	sub := h.subs[view]
	select {
	case u, open := <-sub.C():
		return u, open, true
	case <-time.After(h.opts.Timeout):
		return live.Update{}, true, false
	}
}

func (h *Harness) expect(n int, step *ExpectStep) {
	want, err := ir.FromGo(step.Value)
	if err != nil {
		h.result.AddError(fmt.Sprintf("step %d: expected value: %v", n, err))
		return
	}

	u, open, arrived := h.next(step.View)
	switch {
	case !arrived:
		h.result.AddError(fmt.Sprintf("step %d: view %s: timed out waiting for %s", n, step.View, render(want)))
		return
	case !open:
		h.result.AddError(fmt.Sprintf("step %d: view %s: subscription closed", n, step.View))
		return
	case u.Err != nil:
		h.result.AddTrace(TraceEvent{Step: n, Type: TraceError, View: step.View, Code: errorCode(u.Err)})
		h.result.AddError(fmt.Sprintf("step %d: view %s: failed: %v", n, step.View, u.Err))
		return
	}

	h.result.AddTrace(TraceEvent{Step: n, Type: TraceEmit, View: step.View, Value: u.Value})
	if !ir.Equal(want, u.Value) {
		h.result.AddError(fmt.Sprintf("step %d: view %s: expected %s, got %s", n, step.View, render(want), render(u.Value)))
	}
}

func (h *Harness) expectNone(n int, view string) {
	sub := h.subs[view]
	select {
	case u, open := <-sub.C():
		if !open {
			h.result.AddError(fmt.Sprintf("step %d: view %s: subscription closed", n, view))
			return
		}
		h.result.AddError(fmt.Sprintf("step %d: view %s: unexpected update %s", n, view, renderUpdate(u)))
	case <-time.After(h.opts.Quiet):
		h.result.AddTrace(TraceEvent{Step: n, Type: TraceNone, View: view})
	}
}

func (h *Harness) expectError(n int, step *ExpectErrorStep) {
	u, open, arrived := h.next(step.View)
	switch {
	case !arrived:
		h.result.AddError(fmt.Sprintf("step %d: view %s: timed out waiting for an error", n, step.View))
		return
	case !open:
		h.result.AddError(fmt.Sprintf("step %d: view %s: subscription closed", n, step.View))
		return
	case u.Err == nil:
		h.result.AddError(fmt.Sprintf("step %d: view %s: expected an error, got %s", n, step.View, render(u.Value)))
		return
	}

	code := errorCode(u.Err)
	h.result.AddTrace(TraceEvent{Step: n, Type: TraceError, View: step.View, Code: code})
	if step.Code != "" && step.Code != code {
		h.result.AddError(fmt.Sprintf("step %d: view %s: expected error %s, got %s", n, step.View, step.Code, code))
	}
}

func (h *Harness) closeSubscriptions() {
	for _, sub := range h.subs {
		sub.Close()
	}
}

func errorCode(err error) string {
	if code := storage.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

func render(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func renderUpdate(u live.Update) string {
	if u.Err != nil {
		return "error: " + u.Err.Error()
	}
	return render(u.Value)
}
