package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/capwatch/capwatch/internal/discovery"
	"github.com/capwatch/capwatch/internal/match"
	"github.com/capwatch/capwatch/internal/observability"
)

// ottawa is (lon, lat), inside every test polygon below.
var ottawa = geom.Coord{-75.70, 45.42}

// capDoc builds a minimal alert document. The polygon is lat,lon pairs as
// the source writes them.
func capDoc(id, headline, sent string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<alert>
  <identifier>%s</identifier>
  <sent>%s</sent>
  <info>
    <language>en-CA</language>
    <severity>Severe</severity>
    <urgency>Immediate</urgency>
    <certainty>Likely</certainty>
    <headline>%s</headline>
    <description>Heavy snow expected.
Avoid travel &amp; stay indoors.</description>
    <area>
      <areaDesc>City of Ottawa</areaDesc>
      <polygon>45.0,-76.5 45.0,-75.0 46.0,-75.0 46.0,-76.5</polygon>
    </area>
  </info>
</alert>`, id, sent, headline)
}

type stubDiscoverer struct {
	candidates []discovery.Candidate
	err        error
}

func (d *stubDiscoverer) Discover(context.Context) ([]discovery.Candidate, error) {
	return d.candidates, d.err
}

type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{bodies: make(map[string][]byte)}
}

func (f *stubFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = []byte(body)
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if body, ok := f.bodies[url]; ok {
		return body, nil
	}
	return nil, eris.New("fetch: absent")
}

func (f *stubFetcher) Probe(ctx context.Context, url string) ([]byte, bool) {
	body, err := f.Fetch(ctx, url)
	return body, err == nil
}

type memStore struct {
	mu       sync.Mutex
	paths    []string
	seen     map[string]struct{}
	replaced []string
}

func newMemStore(seen ...string) *memStore {
	s := &memStore{seen: make(map[string]struct{})}
	for _, id := range seen {
		s.seen[id] = struct{}{}
	}
	return s
}

func (s *memStore) AddPath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return nil
}

func (s *memStore) Paths(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...), nil
}

func (s *memStore) SeenIDs(context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.seen))
	for id := range s.seen {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *memStore) ReplaceSeenIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced = append([]string(nil), ids...)
	return nil
}

func testMatcher() *match.Matcher {
	return match.New(match.Config{}, match.DefaultGazetteer())
}

func newTestRunner(d Discoverer, f Fetcher, store Store) *Runner {
	return New(d, f, testMatcher(), store, observability.NewMetricsForTesting(), Options{Concurrency: 2})
}

func TestRun_CachedPathOnly(t *testing.T) {
	// With the cache pre-seeded and every other tier dark, the single cached
	// path still produces a result.
	now := time.Date(2026, 2, 10, 16, 0, 0, 0, time.UTC)
	base := "https://weather.example.net"
	url := base + "/alerts/cap/20260210/CWTO/15/alerts_e.cap"

	store := newMemStore()
	require.NoError(t, store.AddPath(context.Background(), base+"/alerts/cap/20260203/CWTO/15/alerts_e.cap"))

	fetcher := newStubFetcher()
	fetcher.set(url, capDoc("alert-1", "Winter storm warning in effect", "2026-02-10T14:00:00-00:00"))

	disc := discovery.New(discovery.Config{
		BaseURL:   base,
		Threshold: 1,
		Offices:   []string{"CWZZ"},
		MaxHours:  1,
	}, fetcher, store, clockwork.NewFakeClockAt(now), nil)

	runner := newTestRunner(disc, fetcher, store)
	result, err := runner.Run(context.Background(), ottawa)
	require.NoError(t, err)

	require.Len(t, result.Alerts, 1)
	assert.Equal(t, "alert-1", result.Alerts[0].ID)
	assert.Equal(t, "Winter storm warning in effect", result.Alerts[0].Title)
	assert.Equal(t, []string{"City of Ottawa"}, result.Alerts[0].AreaNames)
	assert.Equal(t, []string{"alert-1"}, result.NewIDs)
	assert.Contains(t, store.paths, url, "the proven path re-enters the cache")
	assert.Equal(t, []string{"alert-1"}, store.replaced)
}

func TestRun_EmptyDiscoveryYieldsEmptyList(t *testing.T) {
	runner := newTestRunner(&stubDiscoverer{}, newStubFetcher(), newMemStore())

	result, err := runner.Run(context.Background(), ottawa)
	require.NoError(t, err)
	assert.NotNil(t, result.Alerts)
	assert.Empty(t, result.Alerts)
	assert.NotNil(t, result.NewIDs)
	assert.Empty(t, result.NewIDs)
}

func TestRun_DiscoveryErrorAborts(t *testing.T) {
	runner := newTestRunner(&stubDiscoverer{err: eris.New("boom")}, newStubFetcher(), nil)
	_, err := runner.Run(context.Background(), ottawa)
	assert.Error(t, err)
}

func TestRun_MalformedDocumentSkipped(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.set("https://x/good.cap", capDoc("good", "Snowfall warning in effect", "2026-02-10T14:00:00-00:00"))
	fetcher.set("https://x/bad.cap", "not xml at all <<<")

	disc := &stubDiscoverer{candidates: []discovery.Candidate{
		{URL: "https://x/good.cap", Tier: discovery.TierListing},
		{URL: "https://x/bad.cap", Tier: discovery.TierListing},
	}}
	runner := newTestRunner(disc, fetcher, newMemStore())

	result, err := runner.Run(context.Background(), ottawa)
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, "good", result.Alerts[0].ID)
	assert.Equal(t, 1, result.Retrieved, "the malformed document proves nothing")
}

func TestRun_PreFetchedBodySkipsFetch(t *testing.T) {
	body := capDoc("probed", "Wind warning in effect", "2026-02-10T14:00:00-00:00")
	disc := &stubDiscoverer{candidates: []discovery.Candidate{
		{URL: "https://x/probed.cap", Tier: discovery.TierPattern, Body: []byte(body)},
	}}
	// The fetcher knows nothing; only the carried body can succeed.
	runner := newTestRunner(disc, newStubFetcher(), newMemStore())

	result, err := runner.Run(context.Background(), ottawa)
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, "probed", result.Alerts[0].ID)
}

func TestRun_ConflationActiveBeatsCancellation(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.set("https://x/active.cap", capDoc("act", "Winter storm warning in effect", "2026-02-10T10:00:00-00:00"))
	fetcher.set("https://x/ended.cap", capDoc("end", "Winter storm warning ended", "2026-02-10T12:00:00-00:00"))

	disc := &stubDiscoverer{candidates: []discovery.Candidate{
		{URL: "https://x/active.cap", Tier: discovery.TierListing},
		{URL: "https://x/ended.cap", Tier: discovery.TierListing},
	}}
	runner := newTestRunner(disc, fetcher, newMemStore())

	result, err := runner.Run(context.Background(), ottawa)
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, "act", result.Alerts[0].ID,
		"an active alert outranks a newer cancellation of the same event")
}

func TestRun_UnrelatedLocationMatchesNothing(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.set("https://x/a.cap", capDoc("a", "Winter storm warning in effect", "2026-02-10T10:00:00-00:00"))

	disc := &stubDiscoverer{candidates: []discovery.Candidate{
		{URL: "https://x/a.cap", Tier: discovery.TierListing},
	}}
	runner := newTestRunner(disc, fetcher, newMemStore())

	// Vancouver is far outside the Ottawa polygon and its buffer.
	result, err := runner.Run(context.Background(), geom.Coord{-123.12, 49.28})
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	assert.Equal(t, 1, result.Retrieved, "non-matching documents still prove their paths")
}

func TestRun_NewIDDiff(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.set("https://x/old.cap", capDoc("old-id", "Snowfall warning in effect", "2026-02-10T10:00:00-00:00"))
	fetcher.set("https://x/new.cap", capDoc("new-id", "Wind warning in effect", "2026-02-10T11:00:00-00:00"))

	disc := &stubDiscoverer{candidates: []discovery.Candidate{
		{URL: "https://x/old.cap", Tier: discovery.TierListing},
		{URL: "https://x/new.cap", Tier: discovery.TierListing},
	}}
	store := newMemStore("old-id")
	runner := newTestRunner(disc, fetcher, store)

	result, err := runner.Run(context.Background(), ottawa)
	require.NoError(t, err)
	require.Len(t, result.Alerts, 2)
	assert.Equal(t, []string{"new-id"}, result.NewIDs)
	assert.ElementsMatch(t, []string{"old-id", "new-id"}, store.replaced,
		"the seen set is replaced with the current run's IDs")
}

func TestRun_BattleboardFallbackMatchesByName(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<feed>
  <entry>
    <id>bb-1</id>
    <title>Freezing rain warning in effect, City of Ottawa</title>
    <summary>Ice accretion expected.</summary>
    <updated>2026-02-10T12:00:00Z</updated>
  </entry>
  <entry>
    <title>No watches or warnings in effect, Nunavut</title>
  </entry>
</feed>`
	disc := &stubDiscoverer{candidates: []discovery.Candidate{
		{URL: "https://x/rss-style/on_e.xml", Tier: discovery.TierBattleboard, Body: []byte(feed), Battleboard: true},
	}}
	runner := newTestRunner(disc, newStubFetcher(), newMemStore())

	result, err := runner.Run(context.Background(), ottawa)
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, "bb-1", result.Alerts[0].ID)
}

func TestRun_CancelledContextReturnsNothing(t *testing.T) {
	fetcher := newStubFetcher()
	disc := &stubDiscoverer{candidates: []discovery.Candidate{
		{URL: "https://x/a.cap", Tier: discovery.TierListing},
	}}
	runner := newTestRunner(disc, fetcher, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runner.Run(ctx, ottawa)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result, "a cancelled run surfaces no partial results")
}

func TestFormatDescription(t *testing.T) {
	got := FormatDescription("snow & ice\r\n<take cover>")
	assert.Equal(t, "snow &amp; ice<br>&lt;take cover&gt;", got)

	assert.Equal(t, "", FormatDescription(""))
}
