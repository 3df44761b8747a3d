package main

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/capwatch/capwatch/internal/config"
	"github.com/capwatch/capwatch/internal/discovery"
	"github.com/capwatch/capwatch/internal/fetch"
	"github.com/capwatch/capwatch/internal/match"
	"github.com/capwatch/capwatch/internal/observability"
	"github.com/capwatch/capwatch/internal/pipeline"
	"github.com/capwatch/capwatch/internal/state"
)

// appEnv bundles the wired collaborators a command needs.
type appEnv struct {
	Store   *state.Store
	Chain   *fetch.Chain
	Runner  *pipeline.Runner
	Metrics *observability.Metrics
}

// initApp wires the pipeline from configuration: state store, transport
// chain (direct plus configured proxies), tiered discovery, matcher, and
// the runner on top.
func initApp(c *config.Config) (*appEnv, error) {
	metrics := observability.NewMetrics()

	store, err := state.Open(c.State.Path, c.State.PathCap)
	if err != nil {
		return nil, err
	}

	opts := fetch.Options{
		Timeout:   time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		UserAgent: c.Fetch.UserAgent,
		RateLimit: rate.Limit(c.Fetch.RatePerSecond),
	}
	transports := []fetch.Transport{fetch.NewDirect(opts)}
	for i, proxyBase := range c.Fetch.Proxies {
		transports = append(transports, fetch.NewProxy(fmt.Sprintf("proxy-%d", i+1), proxyBase, opts))
	}
	chain := fetch.NewChain(metrics, transports...)

	disc := discovery.New(discovery.Config{
		BaseURL:         c.Source.BaseURL,
		Threshold:       c.Discovery.Threshold,
		MaxOffices:      c.Discovery.MaxOffices,
		MaxHours:        c.Discovery.MaxHours,
		Concurrency:     c.Discovery.Concurrency,
		Offices:         c.Discovery.Offices,
		Regions:         c.Source.Regions,
		DateWindowBack:  c.Discovery.DateWindowBack,
		IncludeTomorrow: c.Discovery.IncludeTomorrow,
	}, chain, store, nil, metrics)

	matcher := match.New(match.Config{BufferKM: c.Match.BufferKM}, match.DefaultGazetteer())

	runner := pipeline.New(disc, chain, matcher, store, metrics, pipeline.Options{
		Concurrency: c.Discovery.Concurrency,
	})

	return &appEnv{Store: store, Chain: chain, Runner: runner, Metrics: metrics}, nil
}

// Close releases the environment's resources.
func (e *appEnv) Close() error {
	return e.Store.Close()
}
