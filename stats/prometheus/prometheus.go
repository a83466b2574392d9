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

// Package prometheus exposes per-endpoint pending-request counts as a
// Prometheus collector.
package prometheus

import (
	"context"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/lbkit/load"
)

// Collector reports the pending-request count of registered endpoints as a
// gauge with an endpoint label. Loads are read at scrape time through
// NewConstMetric; the collector stores no samples itself.
//
// Collector implements prometheus.Collector.
type Collector struct {
	desc *prom.Desc

	mu        sync.Mutex
	endpoints map[string]load.Reporter
}

// NewCollector returns an empty collector. Register it with a Prometheus
// registry and feed it endpoints via Register or the Discoverer wrapper.
func NewCollector() *Collector {
	return &Collector{
		desc: prom.NewDesc(
			"load_endpoint_pending_requests",
			"Number of requests currently pending per endpoint.",
			[]string{"endpoint"},
			nil,
		),
		endpoints: make(map[string]load.Reporter),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, r := range c.endpoints {
		ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, float64(r.Load()), key)
	}
}

// Register starts reporting r's load under key, replacing any prior
// registration for key.
func (c *Collector) Register(key string, r load.Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[key] = r
}

// Unregister stops reporting the endpoint registered under key.
func (c *Collector) Unregister(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.endpoints, key)
}

// Discoverer wraps d so that changes flowing through it keep the collector's
// registrations current: inserted endpoints that report load are registered
// under their key, removed keys are unregistered. Changes and errors are
// otherwise forwarded untouched.
func (c *Collector) Discoverer(d load.Discoverer) load.Discoverer {
	return &collectedDiscoverer{inner: d, c: c}
}

type collectedDiscoverer struct {
	inner load.Discoverer
	c     *Collector
}

func (d *collectedDiscoverer) Next(ctx context.Context) (load.Change, error) {
	change, err := d.inner.Next(ctx)
	if err != nil {
		return load.Change{}, err
	}
	switch change.Op {
	case load.Insert:
		if r, ok := change.Endpoint.(load.Reporter); ok {
			d.c.Register(change.Key, r)
		}
	case load.Remove:
		d.c.Unregister(change.Key)
	}
	return change, nil
}
