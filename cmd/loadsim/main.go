/*
 *
 * Copyright 2024 lbkit authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Command loadsim drives simulated dispatch traffic over a churning endpoint
// set and serves the resulting per-endpoint pending-request gauge on
// /metrics. It exists to demonstrate the decorators end to end: discovery
// decoration, least-pending picking, and scrape-time load reporting.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/promslog"
	"golang.org/x/sync/errgroup"

	"github.com/lbkit/load/balancer/leastpending"
	"github.com/lbkit/load/pending"
	statsprom "github.com/lbkit/load/stats/prometheus"
)

func main() {
	var (
		listenAddr  = kingpin.Flag("web.listen-address", "Address to serve /metrics on.").Default(":9090").String()
		endpoints   = kingpin.Flag("sim.endpoints", "Number of simulated endpoints.").Default("5").Int()
		workers     = kingpin.Flag("sim.workers", "Number of concurrent dispatch workers.").Default("8").Int()
		maxLatency  = kingpin.Flag("sim.max-latency", "Upper bound for simulated completion latency.").Default("250ms").Duration()
		churnEvery  = kingpin.Flag("sim.churn-interval", "How often one endpoint is replaced. 0 disables churn.").Default("10s").Duration()
		choiceCount = kingpin.Flag("picker.choice-count", "Number of endpoints the picker samples per pick.").Default("2").Uint32()
		logLevel    = kingpin.Flag("log.level", "Log level: debug, info, warn, error.").Default("info").String()
	)
	kingpin.Parse()

	allowedLevel := &promslog.AllowedLevel{}
	if err := allowedLevel.Set(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log.level: %v\n", err)
		os.Exit(2)
	}
	logger := promslog.New(&promslog.Config{Level: allowedLevel})

	cfg, err := leastpending.ParseConfig(fmt.Appendf(nil, `{"choiceCount": %d}`, *choiceCount))
	if err != nil {
		logger.Error("invalid picker config", "err", err)
		os.Exit(2)
	}
	picker := leastpending.New(cfg)

	collector := statsprom.NewCollector()
	registry := prom.NewRegistry()
	registry.MustRegister(collector)

	// Discovery pipeline: simulator -> pending decoration -> metric
	// registration.
	stream := collector.Discoverer(pending.NewDiscoverer(newSimDiscoverer(*endpoints, *churnEvery, *maxLatency)))
	set := newEndpointSet()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	// Discovery consumer: applies the decorated change stream to the live
	// set view.
	g.Add(func() error {
		for {
			change, err := stream.Next(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			logger.Info("discovery change", "op", change.Op.String(), "key", change.Key)
			set.apply(change)
		}
	}, func(error) {
		cancel()
	})

	// Traffic generators.
	g.Add(func() error {
		eg, ctx := errgroup.WithContext(ctx)
		for i := 0; i < *workers; i++ {
			worker := i
			eg.Go(func() error {
				return runWorker(ctx, worker, picker, set, logger)
			})
		}
		return eg.Wait()
	}, func(error) {
		cancel()
	})

	// Metrics exposition.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: *listenAddr, Handler: mux}
	g.Add(func() error {
		logger.Info("serving metrics", "addr", *listenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	})

	if err := g.Run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Info("shutting down", "signal", sig.Signal.String())
			return
		}
		logger.Error("run group exited", "err", err)
		os.Exit(1)
	}
}

// runWorker repeatedly picks the least pending endpoint and dispatches a
// request, waiting for its completion before the next round.
func runWorker(ctx context.Context, id int, picker *leastpending.Picker, set *endpointSet, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		target, err := picker.Pick(set.snapshot())
		if err != nil {
			// The set may be empty before the first Insert is consumed.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		c := target.Dispatch(ctx, fmt.Sprintf("worker-%d", id))
		select {
		case <-c.Done():
			if res := c.Result(); res.Err != nil && !errors.Is(res.Err, context.Canceled) {
				logger.Debug("dispatch failed", "worker", id, "err", res.Err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
