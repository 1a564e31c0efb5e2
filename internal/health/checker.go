// Package health probes the services a login depends on: the authority, the
// push relay, local storage and the events broker.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/kv"
)

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// Result is the outcome of one probe.
type Result struct {
	Name    string
	Err     error
	Elapsed time.Duration
}

// OK reports whether the probe succeeded.
func (r Result) OK() bool { return r.Err == nil }

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// Checker runs named probes concurrently.
type Checker struct {
	probes    map[string]Probe
	timeout   time.Duration
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Checker. timeout bounds each probe; zero means 10s.
func New(timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		probes:  make(map[string]Probe),
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers a probe under name, replacing any previous one.
func (c *Checker) Add(name string, p Probe) {
	c.probes[name] = p
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// CheckAll runs every probe with bounded concurrency and returns the results
// sorted by name.
func (c *Checker) CheckAll(ctx context.Context) []Result {
	sem := make(chan struct{}, 4)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]Result, 0, len(c.probes))
	)

	for name, probe := range c.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := probe(pctx)
			r := Result{Name: name, Err: err, Elapsed: time.Since(start)}

			if c.onMetrics != nil {
				c.onMetrics(name, err == nil)
			}
			if err != nil {
				c.logger.Warn("health: probe failed", zap.String("name", name), zap.Error(err))
			}

			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// HTTPProbe succeeds when endpoint answers with any status below 500. It
// tries HEAD first and falls back to GET.
func HTTPProbe(client *http.Client, endpoint string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		var lastStatus int
		for _, method := range []string{http.MethodHead, http.MethodGet} {
			req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				if method == http.MethodGet {
					return fmt.Errorf("unreachable: %w", err)
				}
				continue
			}
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
			lastStatus = resp.StatusCode
		}
		return fmt.Errorf("server returned %d", lastStatus)
	}
}

// StoreProbe succeeds when the store answers a read.
func StoreProbe(store kv.Store) Probe {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, "health.probe")
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		return nil
	}
}
