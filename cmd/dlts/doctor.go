package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jmerrifield20/dlts/internal/health"
	"github.com/jmerrifield20/dlts/internal/metrics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the authority, push relay and storage are reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{noPush: true})
		if err != nil {
			return err
		}
		defer a.Close()

		checker := newChecker(a)
		results := checker.CheckAll(cmd.Context())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEPENDENCY\tSTATUS\tTIME\tDETAIL")
		failed := 0
		for _, r := range results {
			status, detail := "ok", ""
			if !r.OK() {
				status, detail = "FAIL", r.Err.Error()
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, status, r.Elapsed.Round(time.Millisecond), detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func newChecker(a *app) *health.Checker {
	c := health.New(a.cfg.AuthorityTimeout, a.logger.Named("health"))
	c.SetMetricsRecord(metrics.RecordDependency)

	httpClient := &http.Client{Timeout: a.cfg.AuthorityTimeout}
	c.Add("authority", health.HTTPProbe(httpClient, a.cfg.AuthorityURL))
	c.Add("storage", health.StoreProbe(a.store))
	if a.cfg.RelayURL != "" {
		c.Add("push-relay", health.HTTPProbe(httpClient, a.cfg.RelayURL))
	}
	if a.cfg.EventsRedisURL != "" {
		c.Add("events", redisProbe(a.cfg.EventsRedisURL))
	}
	return c
}

func redisProbe(rawURL string) health.Probe {
	return func(ctx context.Context) error {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		return nil
	}
}
