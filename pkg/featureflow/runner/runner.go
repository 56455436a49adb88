package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/featureflow/pkg/featureflow"
	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
)

// Event is one raw input record.
type Event = map[string]any

// maxLineSize bounds a single JSON line.
const maxLineSize = 4 << 20

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets how many identity shards run concurrently.
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the logger for the run and its passes.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTransformerOptions passes options to every transformer the runner
// creates.
func WithTransformerOptions(opts ...featureflow.Option) Option {
	return func(r *Runner) {
		r.passOpts = append(r.passOpts, opts...)
	}
}

// WithLoader loads the DTCs into l instead of a new loader. Stores
// declared by the DTCs are shared with everything else using l.
func WithLoader(l *schema.Loader) Option {
	return func(r *Runner) {
		r.loader = l
	}
}

// Runner processes events with a streaming DTC and, optionally, a window
// DTC reading the blocks the streaming DTC persisted.
type Runner struct {
	loader    *schema.Loader
	streaming *featureflow.StreamingTransformerSchema
	window    *featureflow.WindowTransformerSchema
	workers   int
	logger    *slog.Logger
	passOpts  []featureflow.Option
}

// New loads the DTCs. windowDTC may be nil.
func New(streamingDTC config.Config, windowDTC *config.Config, opts ...Option) (*Runner, error) {
	r := &Runner{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(r)
	}
	if r.loader == nil {
		r.loader = featureflow.NewLoader()
	}

	fqn, err := r.loader.AddSchema(streamingDTC.Raw(), "")
	if err != nil {
		return nil, fmt.Errorf("load streaming dtc: %w", err)
	}
	if r.streaming, err = featureflow.NewStreamingTransformerSchema(r.loader, fqn); err != nil {
		return nil, fmt.Errorf("load streaming dtc: %w", err)
	}

	if windowDTC != nil {
		fqn, err := r.loader.AddSchema(windowDTC.Raw(), "")
		if err != nil {
			return nil, fmt.Errorf("load window dtc: %w", err)
		}
		if r.window, err = featureflow.NewWindowTransformerSchema(r.loader, fqn); err != nil {
			return nil, fmt.Errorf("load window dtc: %w", err)
		}
	}
	return r, nil
}

// FromFiles loads the DTCs from YAML or JSON files. windowPath may be "".
func FromFiles(streamingPath, windowPath string, opts ...Option) (*Runner, error) {
	streaming, err := config.FromFile(streamingPath)
	if err != nil {
		return nil, err
	}
	var window *config.Config
	if windowPath != "" {
		w, err := config.FromFile(windowPath)
		if err != nil {
			return nil, err
		}
		window = &w
	}
	return New(streaming, window, opts...)
}

// Loader returns the loader holding the runner's schemas and stores.
func (r *Runner) Loader() *schema.Loader { return r.loader }

// Close closes every store the DTCs opened.
func (r *Runner) Close() error {
	return r.loader.Close()
}

// Result is the output of one identity.
type Result struct {
	Identity   string
	Events     int
	BlockRows  []featureflow.Row
	WindowRows []featureflow.Row
}

// Rows returns the window rows when a window DTC is configured, and the
// block rows otherwise.
func (res Result) Rows() []featureflow.Row {
	if res.WindowRows != nil {
		return res.WindowRows
	}
	return res.BlockRows
}

// ProcessIdentity runs the streaming pass over events, ordered by event
// time, and then the window pass if one is configured.
func (r *Runner) ProcessIdentity(ctx context.Context, identity string, events []Event) (Result, error) {
	ordered, err := r.order(events)
	if err != nil {
		return Result{}, err
	}
	res := Result{Identity: identity, Events: len(ordered)}

	st, err := featureflow.NewStreamingTransformer(r.streaming, identity, r.transformerOptions()...)
	if err != nil {
		return Result{}, err
	}
	if res.BlockRows, err = st.Process(ctx, ordered); err != nil {
		return Result{}, err
	}

	if r.window == nil {
		return res, nil
	}
	wt, err := featureflow.NewWindowTransformer(r.window, identity, r.transformerOptions()...)
	if err != nil {
		return Result{}, err
	}
	rows, err := wt.Process(ctx)
	if err != nil {
		return Result{}, err
	}
	res.WindowRows = append([]featureflow.Row{}, rows...)
	return res, nil
}

func (r *Runner) transformerOptions() []featureflow.Option {
	if r.logger == nil {
		return r.passOpts
	}
	return append([]featureflow.Option{featureflow.WithLogger(r.logger)}, r.passOpts...)
}

// order sorts events by the streaming DTC's Time formula, keeping input
// order for equal times.
func (r *Runner) order(events []Event) ([]Event, error) {
	type timed struct {
		at    time.Time
		event Event
	}
	list := make([]timed, len(events))
	for i, e := range events {
		t, err := r.streaming.TimeOf(e)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		list[i] = timed{at: t, event: e}
	}
	slices.SortStableFunc(list, func(a, b timed) int { return a.at.Compare(b.at) })

	out := make([]Event, len(list))
	for i, t := range list {
		out[i] = t.event
	}
	return out, nil
}

// Summary describes a completed run.
type Summary struct {
	RunID      string
	Events     int
	Identities int
	Rows       []featureflow.Row
	// Invalid holds input lines that could not be decoded or whose
	// identity could not be extracted.
	Invalid error
	// Failures maps an identity to the error that stopped its pass.
	Failures map[string]error
	Duration time.Duration
}

// Err combines every failure of the run, or returns nil.
func (s Summary) Err() error {
	err := s.Invalid
	ids := make([]string, 0, len(s.Failures))
	for id := range s.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		err = multierr.Append(err, fmt.Errorf("identity %s: %w", id, s.Failures[id]))
	}
	return err
}

// Run reads JSON line events from in and processes every identity. Only
// reading the input or cancellation fails the run; identity failures are
// reported in the Summary.
func (r *Runner) Run(ctx context.Context, in io.Reader) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString(), Failures: make(map[string]error)}
	logger := r.logger
	if logger != nil {
		logger = logger.With(slog.String("run_id", summary.RunID))
	}

	groups, order, err := r.group(in, &summary)
	if err != nil {
		return summary, err
	}
	summary.Identities = len(order)

	results := make(map[string]Result, len(order))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, ids := range shard(order, r.workers) {
		g.Go(func() error {
			for _, id := range ids {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := r.ProcessIdentity(gctx, id, groups[id])
				mu.Lock()
				if err != nil {
					summary.Failures[id] = err
				} else {
					results[id] = res
				}
				mu.Unlock()
				if err != nil && logger != nil {
					logger.Warn("identity failed", slog.String("identity", id), slog.String("error", err.Error()))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	for _, id := range order {
		if res, ok := results[id]; ok {
			summary.Rows = append(summary.Rows, res.Rows()...)
		}
	}
	summary.Duration = time.Since(start)
	if logger != nil {
		logger.Info("run completed",
			slog.Int("identities", summary.Identities),
			slog.Int("events", summary.Events),
			slog.Int("rows", len(summary.Rows)),
			slog.Int("failures", len(summary.Failures)),
			slog.Duration("duration", summary.Duration),
		)
	}
	return summary, nil
}

// group decodes the input and buckets events by identity. Identities are
// returned in first-seen order.
func (r *Runner) group(in io.Reader, summary *Summary) (map[string][]Event, []string, error) {
	groups := make(map[string][]Event)
	var order []string

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			summary.Invalid = multierr.Append(summary.Invalid, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		id, err := r.streaming.IdentityOf(e)
		if err != nil {
			summary.Invalid = multierr.Append(summary.Invalid, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], e)
		summary.Events++
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read events: %w", err)
	}
	return groups, order, nil
}

// WriteRows writes rows as JSON lines.
func WriteRows(w io.Writer, rows []featureflow.Row) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		out := make(map[string]any, len(row.Values)+3)
		for k, v := range row.Values {
			out[k] = v
		}
		out["identity"] = row.Identity
		if !row.Start.IsZero() {
			out["start"] = row.Start
		}
		if row.Aggregate != "" {
			out["aggregate"] = row.Aggregate
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return nil
}
