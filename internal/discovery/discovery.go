// Package discovery locates candidate alert-document paths in a remote
// partitioned tree that exposes no reliable index. Four tiers run in order
// (cached paths, known-pattern probing, directory-listing traversal, then a
// date-window/secondary-feed fallback), stopping as soon as one yields
// enough candidates. Absence at any tier is expected and silent; exhausting
// every tier produces an empty result, never an error.
package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capwatch/capwatch/internal/observability"
)

// Tier names used in logs and metrics.
const (
	TierCache       = "cache"
	TierPattern     = "pattern"
	TierListing     = "listing"
	TierDateWindow  = "datewindow"
	TierBattleboard = "battleboard"
)

// Candidate is one document the pipeline should try. Body is non-nil when
// the tier that produced the candidate already retrieved the bytes (pattern
// probes fetch as they go); otherwise the caller fetches the URL itself.
type Candidate struct {
	URL         string
	Tier        string
	Body        []byte
	Battleboard bool
}

// Fetcher is the transport surface discovery needs. *fetch.Chain satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Probe(ctx context.Context, url string) ([]byte, bool)
}

// PathCache supplies previously proven document paths. *state.Store
// satisfies it; the cache is an injected dependency, not ambient state.
type PathCache interface {
	Paths(ctx context.Context) ([]string, error)
}

// Config bounds the search. The depth caps are policy values surfaced as
// configuration rather than hard-coded.
type Config struct {
	BaseURL         string
	Threshold       int      // stop once this many candidates exist; default 15
	MaxOffices      int      // offices explored per run; default 6
	MaxHours        int      // hour buckets explored per office; default 4
	Concurrency     int      // in-flight probes within a tier; default 4
	Offices         []string // pattern catalogue; default DefaultOffices
	Suffixes        []string // pattern catalogue; default DefaultSuffixes
	Regions         []string // battleboard region codes for the last-resort feed
	DateWindowBack  int      // trailing days probed when today yields nothing; default 1
	IncludeTomorrow bool     // absorb timezone skew by probing one day ahead
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 15
	}
	if c.MaxOffices <= 0 {
		c.MaxOffices = 6
	}
	if c.MaxHours <= 0 {
		c.MaxHours = 4
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if len(c.Offices) == 0 {
		c.Offices = DefaultOffices
	}
	if len(c.Suffixes) == 0 {
		c.Suffixes = DefaultSuffixes
	}
	if c.DateWindowBack <= 0 {
		c.DateWindowBack = 1
	}
	return c
}

// Discoverer runs the tiered search.
type Discoverer struct {
	cfg     Config
	fetcher Fetcher
	cache   PathCache
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// New creates a Discoverer. cache may be nil (tier 1 is skipped), metrics
// may be nil, and a nil clock means the real one.
func New(cfg Config, fetcher Fetcher, cache PathCache, clock clockwork.Clock, metrics *observability.Metrics) *Discoverer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Discoverer{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		cache:   cache,
		clock:   clock,
		metrics: metrics,
	}
}

// Discover walks the tiers for the current target date and returns whatever
// candidates it found. The only error it returns is context cancellation;
// every remote misfortune degrades to fewer candidates.
func (d *Discoverer) Discover(ctx context.Context) ([]Candidate, error) {
	target := d.clock.Now().UTC()
	seen := make(map[string]struct{})
	var out []Candidate

	add := func(c Candidate) {
		if _, dup := seen[c.URL]; dup {
			return
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
		d.count(c.Tier)
	}

	// Tier 1: cached paths with the date segment rewritten.
	for _, c := range d.cachedCandidates(ctx, target) {
		add(c)
	}
	if len(out) >= d.cfg.Threshold {
		return out, nil
	}

	// Tier 2: known-pattern probing, parallel within the tier.
	probed, err := d.probePatterns(ctx, target, d.cfg.Threshold-len(out))
	if err != nil {
		return out, err
	}
	for _, c := range probed {
		add(c)
	}
	if len(out) >= d.cfg.Threshold {
		return out, nil
	}

	// Tier 3: directory-listing traversal for the target date.
	for _, c := range d.traverseListing(ctx, target, d.cfg.Threshold-len(out)) {
		add(c)
	}
	if len(out) >= d.cfg.Threshold || ctx.Err() != nil {
		return out, ctx.Err()
	}

	// Tier 4: trailing date window, then the secondary feed.
	offsets := make([]int, 0, d.cfg.DateWindowBack+1)
	for i := 1; i <= d.cfg.DateWindowBack; i++ {
		offsets = append(offsets, -i)
	}
	if d.cfg.IncludeTomorrow {
		offsets = append(offsets, 1)
	}
	for _, off := range offsets {
		day := target.AddDate(0, 0, off)
		for _, c := range d.traverseListing(ctx, day, d.cfg.Threshold-len(out)) {
			c.Tier = TierDateWindow
			add(c)
		}
		if len(out) >= d.cfg.Threshold || ctx.Err() != nil {
			return out, ctx.Err()
		}
	}

	if len(out) == 0 {
		for _, region := range d.cfg.Regions {
			add(Candidate{
				URL:         BattleboardURL(d.cfg.BaseURL, region),
				Tier:        TierBattleboard,
				Battleboard: true,
			})
		}
	}

	zap.L().Debug("discovery complete",
		zap.Int("candidates", len(out)),
		zap.Time("target_date", target),
	)
	return out, ctx.Err()
}

// cachedCandidates rewrites previously proven paths onto the target date.
// The paths are proposals only; the pipeline fetches them like any other
// candidate and a stale one simply fails its probe.
func (d *Discoverer) cachedCandidates(ctx context.Context, target time.Time) []Candidate {
	if d.cache == nil {
		return nil
	}
	paths, err := d.cache.Paths(ctx)
	if err != nil {
		zap.L().Warn("discovery: path cache unreadable", zap.Error(err))
		return nil
	}

	// Newest first: the cache stores oldest first.
	candidates := make([]Candidate, 0, len(paths))
	for i := len(paths) - 1; i >= 0; i-- {
		rewritten, ok := RewriteDate(paths[i], target)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{URL: rewritten, Tier: TierCache})
	}
	return candidates
}

// probePatterns expands the {office, hour, suffix} catalogue into URLs and
// probes them concurrently. Probes are independent read-only requests, so
// ordering within the tier does not matter; the result is sorted for
// determinism before being returned.
func (d *Discoverer) probePatterns(ctx context.Context, target time.Time, need int) ([]Candidate, error) {
	if need <= 0 {
		return nil, nil
	}

	offices := d.cfg.Offices
	if len(offices) > d.cfg.MaxOffices {
		offices = offices[:d.cfg.MaxOffices]
	}
	hours := recentHours(target, d.cfg.MaxHours)

	var urls []string
	for _, office := range offices {
		for _, hour := range hours {
			for _, suffix := range d.cfg.Suffixes {
				urls = append(urls, DocURL(d.cfg.BaseURL, target, office, hour, suffix))
			}
		}
	}

	var (
		mu    sync.Mutex
		found []Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, u := range urls {
		mu.Lock()
		enough := len(found) >= need
		mu.Unlock()
		if enough || gctx.Err() != nil {
			break
		}

		u := u
		g.Go(func() error {
			body, ok := d.fetcher.Probe(gctx, u)
			if !ok {
				return nil
			}
			mu.Lock()
			found = append(found, Candidate{URL: u, Tier: TierPattern, Body: body})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].URL < found[j].URL })
	return found, ctx.Err()
}

// traverseListing walks date -> offices -> hours -> documents through HTML
// index pages, depth-bounded by MaxOffices and MaxHours. Any unreadable
// listing prunes that branch silently.
func (d *Discoverer) traverseListing(ctx context.Context, day time.Time, need int) []Candidate {
	if need <= 0 || ctx.Err() != nil {
		return nil
	}

	dateURL := DateURL(d.cfg.BaseURL, day)
	body, ok := d.fetcher.Probe(ctx, dateURL+"/")
	if !ok {
		return nil
	}

	offices := listingDirs(parseListing(body))
	if len(offices) > d.cfg.MaxOffices {
		offices = offices[:d.cfg.MaxOffices]
	}

	var out []Candidate
	for _, office := range offices {
		if len(out) >= need || ctx.Err() != nil {
			break
		}
		officeURL := dateURL + "/" + office
		body, ok := d.fetcher.Probe(ctx, officeURL+"/")
		if !ok {
			continue
		}

		hours := listingDirs(parseListing(body))
		// Latest hours first: fresh documents cluster there.
		sort.Sort(sort.Reverse(sort.StringSlice(hours)))
		if len(hours) > d.cfg.MaxHours {
			hours = hours[:d.cfg.MaxHours]
		}

		for _, hour := range hours {
			if len(out) >= need || ctx.Err() != nil {
				break
			}
			hourURL := officeURL + "/" + hour
			body, ok := d.fetcher.Probe(ctx, hourURL+"/")
			if !ok {
				continue
			}
			for _, doc := range listingDocs(parseListing(body)) {
				out = append(out, Candidate{URL: hourURL + "/" + doc, Tier: TierListing})
				if len(out) >= need {
					break
				}
			}
		}
	}
	return out
}

func (d *Discoverer) count(tier string) {
	if d.metrics == nil {
		return
	}
	d.metrics.DiscoveryTier.WithLabelValues(tier).Inc()
}
