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

// Package opentelemetry exposes per-endpoint pending-request counts through
// the OpenTelemetry metric API.
package opentelemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lbkit/load"
	"github.com/lbkit/load/internal/logging"
)

var logger = logging.Component("otel-load")

const (
	instrumentationScope = "github.com/lbkit/load/stats/opentelemetry"

	// PendingRequestsMetric is the name of the per-endpoint pending-request
	// gauge.
	PendingRequestsMetric = "load.endpoint.pending_requests"

	// EndpointKeyAttribute is the attribute carrying the endpoint's discovery
	// key on each data point.
	EndpointKeyAttribute = "endpoint.key"
)

// MetricsOptions are the metrics options for the load observer.
type MetricsOptions struct {
	// MeterProvider is the MeterProvider used for access to the Meter that
	// backs the pending-request gauge. The global default is used if unset.
	MeterProvider metric.MeterProvider
}

// Observer reports the pending-request count of registered endpoints through
// an asynchronous gauge, one data point per endpoint keyed by its discovery
// key. Loads are read at collection time; nothing is stored between
// collections.
type Observer struct {
	gauge metric.Int64ObservableGauge
	reg   metric.Registration

	mu        sync.Mutex
	endpoints map[string]load.Reporter
}

// NewObserver creates an Observer recording against mo's MeterProvider.
// Callers must Close the observer when done with it.
func NewObserver(mo MetricsOptions) (*Observer, error) {
	mp := mo.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationScope)

	o := &Observer{endpoints: make(map[string]load.Reporter)}
	var err error
	o.gauge, err = meter.Int64ObservableGauge(PendingRequestsMetric,
		metric.WithDescription("Number of requests currently pending per endpoint."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	o.reg, err = meter.RegisterCallback(o.observe, o.gauge)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer) observe(_ context.Context, obs metric.Observer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, r := range o.endpoints {
		obs.ObserveInt64(o.gauge, int64(r.Load()),
			metric.WithAttributes(attribute.String(EndpointKeyAttribute, key)))
	}
	return nil
}

// Register starts observing r's load under key, replacing any prior
// registration for key.
func (o *Observer) Register(key string, r load.Reporter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endpoints[key] = r
}

// Unregister stops observing the endpoint registered under key.
func (o *Observer) Unregister(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.endpoints, key)
}

// Close stops the observer's metric callback. Registered endpoints are
// released.
func (o *Observer) Close() error {
	o.mu.Lock()
	o.endpoints = make(map[string]load.Reporter)
	o.mu.Unlock()
	return o.reg.Unregister()
}

// Discoverer wraps d so that changes flowing through it keep the observer's
// registrations current: inserted endpoints that report load are registered
// under their key, removed keys are unregistered. Changes and errors are
// otherwise forwarded untouched.
func (o *Observer) Discoverer(d load.Discoverer) load.Discoverer {
	return &observedDiscoverer{inner: d, obs: o}
}

type observedDiscoverer struct {
	inner load.Discoverer
	obs   *Observer
}

func (d *observedDiscoverer) Next(ctx context.Context) (load.Change, error) {
	change, err := d.inner.Next(ctx)
	if err != nil {
		return load.Change{}, err
	}
	switch change.Op {
	case load.Insert:
		if r, ok := change.Endpoint.(load.Reporter); ok {
			d.obs.Register(change.Key, r)
		} else {
			logger.Warningf("inserted endpoint %q does not report load; not observing it", change.Key)
		}
	case load.Remove:
		d.obs.Unregister(change.Key)
	}
	return change, nil
}
