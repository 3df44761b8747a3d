// Package pipeline composes discovery, retrieval, parsing, relevance
// matching, and conflation into a single run that answers "what alerts
// affect this coordinate right now".
package pipeline

import (
	"context"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capwatch/capwatch/internal/cap"
	"github.com/capwatch/capwatch/internal/conflate"
	"github.com/capwatch/capwatch/internal/discovery"
	"github.com/capwatch/capwatch/internal/observability"
)

// Discoverer yields candidate document URLs. *discovery.Discoverer
// satisfies it.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.Candidate, error)
}

// Fetcher retrieves one document. *fetch.Chain satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Matcher decides geographic relevance. *match.Matcher satisfies it.
type Matcher interface {
	IsAffected(p geom.Coord, alert *cap.Alert) bool
}

// Store persists run state. *state.Store satisfies it; a nil Store turns
// path caching and new-alert diffing off.
type Store interface {
	AddPath(ctx context.Context, path string) error
	Paths(ctx context.Context) ([]string, error)
	SeenIDs(ctx context.Context) (map[string]struct{}, error)
	ReplaceSeenIDs(ctx context.Context, ids []string) error
}

// AlertView is the presentation-ready form of a matched alert.
// FormattedDescription is HTML-escaped with newlines rendered as <br>, safe
// to interpolate into a notification body.
type AlertView struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	FormattedDescription string     `json:"formatted_description"`
	Instruction          string     `json:"instruction,omitempty"`
	Severity             string     `json:"severity"`
	Urgency              string     `json:"urgency"`
	Certainty            string     `json:"certainty"`
	Effective            *time.Time `json:"effective,omitempty"`
	Expires              *time.Time `json:"expires,omitempty"`
	Link                 string     `json:"link,omitempty"`
	AreaNames            []string   `json:"area_names"`
}

// Result is the outcome of one pipeline run. Alerts is never nil; a quiet
// day is an empty list, not an error. NewIDs holds the alert IDs not seen
// by the previous run, in Alerts order.
type Result struct {
	Alerts     []AlertView `json:"alerts"`
	NewIDs     []string    `json:"new_ids"`
	Candidates int         `json:"candidates"`
	Retrieved  int         `json:"retrieved"`
}

// Options tunes a Runner.
type Options struct {
	// Concurrency bounds parallel document fetches; default 4.
	Concurrency int
}

// Runner executes pipeline runs against a fixed set of collaborators.
type Runner struct {
	discoverer  Discoverer
	fetcher     Fetcher
	matcher     Matcher
	store       Store
	metrics     *observability.Metrics
	concurrency int
}

// New assembles a Runner. store and metrics may be nil.
func New(d Discoverer, f Fetcher, m Matcher, store Store, metrics *observability.Metrics, opts Options) *Runner {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{
		discoverer:  d,
		fetcher:     f,
		matcher:     m,
		store:       store,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// Run performs one complete pass for the coordinate p (lon, lat). Document
// failures degrade to fewer alerts; only discovery failure or cancellation
// aborts the run, and a cancelled run returns no partial results.
func (r *Runner) Run(ctx context.Context, p geom.Coord) (*Result, error) {
	start := time.Now()

	candidates, err := r.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}

	parsed, proven := r.retrieve(ctx, candidates)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var matched []*cap.Alert
	for _, alert := range parsed {
		if r.matcher.IsAffected(p, alert) {
			matched = append(matched, alert)
		}
	}

	reduced := conflate.Reduce(matched)

	views := make([]AlertView, 0, len(reduced))
	ids := make([]string, 0, len(reduced))
	for _, alert := range reduced {
		views = append(views, viewOf(alert))
		ids = append(ids, alert.ID)
	}

	result := &Result{
		Alerts:     views,
		NewIDs:     make([]string, 0, len(ids)),
		Candidates: len(candidates),
		Retrieved:  len(proven),
	}
	r.persist(ctx, proven, ids, result)
	r.observe(start, len(parsed), len(matched), len(views))

	zap.L().Info("pipeline run complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("retrieved", len(proven)),
		zap.Int("parsed", len(parsed)),
		zap.Int("matched", len(matched)),
		zap.Int("returned", len(views)),
		zap.Int("new", len(result.NewIDs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// retrieve fetches and parses every candidate with bounded concurrency.
// It returns the parsed alerts in candidate order and the URLs that
// yielded at least one alert.
func (r *Runner) retrieve(ctx context.Context, candidates []discovery.Candidate) ([]*cap.Alert, []string) {
	perDoc := make([][]*cap.Alert, len(candidates))
	ok := make([]bool, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			body := c.Body
			if body == nil {
				var err error
				body, err = r.fetcher.Fetch(gctx, c.URL)
				if err != nil {
					zap.L().Debug("pipeline: candidate not retrieved",
						zap.String("url", c.URL), zap.Error(err))
					return nil
				}
			}

			alerts, err := parseDocument(body, c)
			if err != nil {
				r.countParseError()
				zap.L().Warn("pipeline: document skipped",
					zap.String("url", c.URL), zap.Error(err))
				return nil
			}

			mu.Lock()
			perDoc[i] = alerts
			ok[i] = len(alerts) > 0
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	var parsed []*cap.Alert
	var proven []string
	for i := range candidates {
		parsed = append(parsed, perDoc[i]...)
		if ok[i] {
			proven = append(proven, candidates[i].URL)
		}
	}
	return parsed, proven
}

func parseDocument(body []byte, c discovery.Candidate) ([]*cap.Alert, error) {
	if c.Battleboard {
		return cap.ParseBattleboard(body, c.URL)
	}
	alert, err := cap.Parse(body, c.URL)
	if err != nil {
		return nil, err
	}
	return []*cap.Alert{alert}, nil
}

// persist records proven paths and diffs the seen-alert set. State problems
// are logged and swallowed; a broken disk must not suppress live alerts.
func (r *Runner) persist(ctx context.Context, proven []string, ids []string, result *Result) {
	if r.store == nil {
		result.NewIDs = append(result.NewIDs, ids...)
		return
	}

	for _, url := range proven {
		if err := r.store.AddPath(ctx, url); err != nil {
			zap.L().Warn("pipeline: path not cached", zap.String("url", url), zap.Error(err))
		}
	}
	if r.metrics != nil {
		if paths, err := r.store.Paths(ctx); err == nil {
			r.metrics.CachedPathCount.Set(float64(len(paths)))
		}
	}

	prior, err := r.store.SeenIDs(ctx)
	if err != nil {
		zap.L().Warn("pipeline: seen-alert set unreadable", zap.Error(err))
		prior = map[string]struct{}{}
	}
	for _, id := range ids {
		if _, seen := prior[id]; !seen {
			result.NewIDs = append(result.NewIDs, id)
		}
	}
	if err := r.store.ReplaceSeenIDs(ctx, ids); err != nil {
		zap.L().Warn("pipeline: seen-alert set not updated", zap.Error(err))
	}
}

func (r *Runner) countParseError() {
	if r.metrics != nil {
		r.metrics.ParseErrors.Inc()
	}
}

func (r *Runner) observe(start time.Time, parsed, matched, returned int) {
	if r.metrics == nil {
		return
	}
	r.metrics.AlertsParsed.Add(float64(parsed))
	r.metrics.AlertsMatched.Add(float64(matched))
	r.metrics.AlertsReturned.Add(float64(returned))
	r.metrics.RunDuration.Observe(time.Since(start).Seconds())
}

// viewOf renders an alert for notification or API output.
func viewOf(a *cap.Alert) AlertView {
	areas := make([]string, 0, len(a.Areas))
	for _, area := range a.Areas {
		if area.Description != "" {
			areas = append(areas, area.Description)
		}
	}
	return AlertView{
		ID:                   a.ID,
		Title:                a.Title,
		FormattedDescription: FormatDescription(a.Description),
		Instruction:          a.Instruction,
		Severity:             string(a.Severity),
		Urgency:              string(a.Urgency),
		Certainty:            string(a.Certainty),
		Effective:            a.Effective,
		Expires:              a.Expires,
		Link:                 a.Link,
		AreaNames:            areas,
	}
}

// FormatDescription HTML-escapes prose and turns newlines into <br> so the
// text embeds safely in an HTML notification body.
func FormatDescription(s string) string {
	escaped := html.EscapeString(strings.ReplaceAll(s, "\r\n", "\n"))
	return strings.ReplaceAll(escaped, "\n", "<br>")
}
