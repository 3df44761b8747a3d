package discovery

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
)

var testNow = time.Date(2026, 2, 10, 16, 30, 0, 0, time.UTC)

const testBase = "https://weather.example.net"

// stubFetcher serves canned bodies by exact URL and records every probe.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	probed []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{bodies: make(map[string][]byte)}
}

func (f *stubFetcher) set(url string, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = []byte(body)
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[url]
	if !ok {
		return nil, eris.New("fetch: absent")
	}
	return body, nil
}

func (f *stubFetcher) Probe(_ context.Context, url string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, url)
	body, ok := f.bodies[url]
	return body, ok
}

type stubCache struct {
	paths []string
	err   error
}

func (c *stubCache) Paths(context.Context) ([]string, error) {
	return c.paths, c.err
}

func listingPage(entries ...string) string {
	page := "<html><body><a href=\"../\">Parent</a>"
	for _, e := range entries {
		page += fmt.Sprintf("<a href=%q>%s</a>", e, e)
	}
	return page + "</body></html>"
}

func newTestDiscoverer(cfg Config, fetcher Fetcher, cache PathCache) *Discoverer {
	cfg.BaseURL = testBase
	return New(cfg, fetcher, cache, clockwork.NewFakeClockAt(testNow), nil)
}

func TestDiscover_CacheTierRewritesDate(t *testing.T) {
	cache := &stubCache{paths: []string{
		testBase + "/alerts/cap/20260203/CWTO/09/alerts_e.cap",
	}}
	d := newTestDiscoverer(Config{Threshold: 1}, newStubFetcher(), cache)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testBase+"/alerts/cap/20260210/CWTO/09/alerts_e.cap", got[0].URL)
	assert.Equal(t, TierCache, got[0].Tier)
	assert.Nil(t, got[0].Body, "cached candidates are proposals, not fetched bodies")
}

func TestDiscover_CacheErrorDegradesToLaterTiers(t *testing.T) {
	fetcher := newStubFetcher()
	url := DocURL(testBase, testNow, "CWAO", "16", "alerts_e.cap")
	fetcher.set(url, "<alert/>")

	d := newTestDiscoverer(Config{Threshold: 1, Offices: []string{"CWAO"}, MaxHours: 1},
		fetcher, &stubCache{err: eris.New("disk gone")})

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TierPattern, got[0].Tier)
}

func TestDiscover_PatternProbeRetainsBody(t *testing.T) {
	fetcher := newStubFetcher()
	url := DocURL(testBase, testNow, "CWTO", "15", "bulletin_e.cap")
	fetcher.set(url, "<alert>hi</alert>")

	d := newTestDiscoverer(Config{Threshold: 1, Offices: []string{"CWTO"}, MaxHours: 2},
		fetcher, nil)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, url, got[0].URL)
	assert.Equal(t, []byte("<alert>hi</alert>"), got[0].Body,
		"the probe already paid for the bytes")
}

func TestDiscover_ListingTraversal(t *testing.T) {
	fetcher := newStubFetcher()
	dateURL := DateURL(testBase, testNow)
	fetcher.set(dateURL+"/", listingPage("CWHX/", "readme.txt"))
	fetcher.set(dateURL+"/CWHX/", listingPage("14/", "16/"))
	fetcher.set(dateURL+"/CWHX/16/", listingPage("storm.cap", "notes.html"))
	fetcher.set(dateURL+"/CWHX/14/", listingPage("old.cap"))

	d := newTestDiscoverer(Config{Threshold: 2, Offices: []string{"CWZZ"}, MaxHours: 2},
		fetcher, nil)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, dateURL+"/CWHX/16/storm.cap", got[0].URL,
		"latest hour bucket is explored first")
	assert.Equal(t, dateURL+"/CWHX/14/old.cap", got[1].URL)
	assert.Equal(t, TierListing, got[0].Tier)
}

func TestDiscover_ListingRespectsOfficeAndHourCaps(t *testing.T) {
	fetcher := newStubFetcher()
	dateURL := DateURL(testBase, testNow)
	fetcher.set(dateURL+"/", listingPage("CWAA/", "CWBB/", "CWCC/"))
	for _, office := range []string{"CWAA", "CWBB", "CWCC"} {
		fetcher.set(dateURL+"/"+office+"/", listingPage("10/", "11/", "12/"))
		for _, hour := range []string{"10", "11", "12"} {
			fetcher.set(dateURL+"/"+office+"/"+hour+"/", listingPage("doc.cap"))
		}
	}

	d := newTestDiscoverer(Config{
		Threshold:  100,
		Offices:    []string{"CWZZ"},
		MaxOffices: 2,
		MaxHours:   1,
	}, fetcher, nil)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2, "two offices, one hour bucket each")
	assert.Equal(t, dateURL+"/CWAA/12/doc.cap", got[0].URL)
	assert.Equal(t, dateURL+"/CWBB/12/doc.cap", got[1].URL)
}

func TestDiscover_DateWindowFallback(t *testing.T) {
	fetcher := newStubFetcher()
	yesterday := testNow.AddDate(0, 0, -1)
	dateURL := DateURL(testBase, yesterday)
	fetcher.set(dateURL+"/", listingPage("CWEG/"))
	fetcher.set(dateURL+"/CWEG/", listingPage("23/"))
	fetcher.set(dateURL+"/CWEG/23/", listingPage("late.cap"))

	d := newTestDiscoverer(Config{Threshold: 1, Offices: []string{"CWZZ"}, MaxHours: 1},
		fetcher, nil)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, dateURL+"/CWEG/23/late.cap", got[0].URL)
	assert.Equal(t, TierDateWindow, got[0].Tier)
}

func TestDiscover_BattleboardOnlyWhenEmpty(t *testing.T) {
	d := newTestDiscoverer(Config{
		Threshold: 1,
		Offices:   []string{"CWZZ"},
		MaxHours:  1,
		Regions:   []string{"on", "qc"},
	}, newStubFetcher(), nil)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, testBase+"/rss-style/on_e.xml", got[0].URL)
	assert.True(t, got[0].Battleboard)
	assert.Equal(t, TierBattleboard, got[0].Tier)
}

func TestDiscover_BattleboardSkippedWhenAnyCandidateExists(t *testing.T) {
	cache := &stubCache{paths: []string{
		testBase + "/alerts/cap/20260101/CWAO/01/alerts_e.cap",
	}}
	d := newTestDiscoverer(Config{
		Threshold: 5,
		Offices:   []string{"CWZZ"},
		MaxHours:  1,
		Regions:   []string{"on"},
	}, newStubFetcher(), cache)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TierCache, got[0].Tier)
}

func TestDiscover_ThresholdStopsEarly(t *testing.T) {
	fetcher := newStubFetcher()
	cache := &stubCache{paths: []string{
		testBase + "/alerts/cap/20260209/CWAO/01/a.cap",
		testBase + "/alerts/cap/20260209/CWAO/02/b.cap",
	}}
	d := newTestDiscoverer(Config{Threshold: 2}, fetcher, cache)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, fetcher.probed, "threshold met from cache, no network traffic")
}

func TestDiscover_DedupAcrossTiers(t *testing.T) {
	url := DocURL(testBase, testNow, "CWAO", "16", "alerts_e.cap")
	fetcher := newStubFetcher()
	fetcher.set(url, "<alert/>")
	cache := &stubCache{paths: []string{url}}

	d := newTestDiscoverer(Config{Threshold: 2, Offices: []string{"CWAO"}, MaxHours: 1},
		fetcher, cache)

	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1, "the same URL surfaces in one tier only")
	assert.Equal(t, TierCache, got[0].Tier)
}

func TestDiscover_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDiscoverer(Config{Threshold: 1}, newStubFetcher(), nil)
	_, err := d.Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRewriteDate(t *testing.T) {
	date := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	got, ok := RewriteDate("https://x/alerts/cap/20251231/CWTO/09/a.cap", date)
	assert.True(t, ok)
	assert.Equal(t, "https://x/alerts/cap/20260210/CWTO/09/a.cap", got)

	_, ok = RewriteDate("https://x/rss-style/on_e.xml", date)
	assert.False(t, ok, "no date segment to rewrite")
}

func TestRecentHours(t *testing.T) {
	now := time.Date(2026, 2, 10, 1, 5, 0, 0, time.UTC)
	assert.Equal(t, []string{"01", "00", "23"}, recentHours(now, 3),
		"wraps backwards across midnight")
	assert.Empty(t, recentHours(now, 0))
}

func TestParseListing(t *testing.T) {
	page := listingPage("CWTO/", "alerts_e.cap", "notes.html", "?C=M;O=A", "/abs", "http://evil/x")
	entries := parseListing([]byte(page))
	assert.Equal(t, []string{"CWTO/", "alerts_e.cap", "notes.html"}, entries)

	assert.Equal(t, []string{"CWTO"}, listingDirs(entries))
	assert.Equal(t, []string{"alerts_e.cap"}, listingDocs(entries))
}
