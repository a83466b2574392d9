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

package opentelemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lbkit/load"
	"github.com/lbkit/load/internal/testutils"
	"github.com/lbkit/load/pending"
)

const defaultTestTimeout = 5 * time.Second

// collectPendingGauge collects once and returns the pending-request gauge
// data points keyed by endpoint attribute, or nil if the metric is absent.
func collectPendingGauge(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != PendingRequestsMetric {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("metric %q has data type %T, want Gauge[int64]", m.Name, m.Data)
			}
			points := make(map[string]int64)
			for _, dp := range gauge.DataPoints {
				key, ok := dp.Attributes.Value(attribute.Key(EndpointKeyAttribute))
				if !ok {
					t.Fatalf("data point missing %q attribute", EndpointKeyAttribute)
				}
				points[key.AsString()] = dp.Value
			}
			return points
		}
	}
	return nil
}

func setup(t *testing.T) (*Observer, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	o, err := NewObserver(MetricsOptions{MeterProvider: mp})
	if err != nil {
		t.Fatalf("NewObserver() failed: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o, reader
}

// TestObserverReportsLoad verifies registered endpoints are observed with
// their live load and their discovery key as the attribute.
func TestObserverReportsLoad(t *testing.T) {
	o, reader := setup(t)

	inner := testutils.NewEndpoint()
	e := pending.New(inner)
	o.Register("backend-1", e)

	if got := collectPendingGauge(t, reader); got["backend-1"] != 0 {
		t.Fatalf("initial gauge = %v, want backend-1: 0", got)
	}

	e.Dispatch(context.Background(), nil)
	e.Dispatch(context.Background(), nil)
	if got := collectPendingGauge(t, reader); got["backend-1"] != 2 {
		t.Fatalf("gauge after two dispatches = %v, want backend-1: 2", got)
	}

	inner.ResolveAll(load.Result{})
	// Collection reads the live counter, so resolve must be visible once the
	// completions are done.
	deadline := time.Now().Add(defaultTestTimeout)
	for {
		if got := collectPendingGauge(t, reader); got["backend-1"] == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("gauge never returned to 0 after all completions resolved")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestObserverUnregister verifies unregistered endpoints stop producing data
// points.
func TestObserverUnregister(t *testing.T) {
	o, reader := setup(t)

	o.Register("backend-1", pending.New(testutils.NewEndpoint()))
	o.Unregister("backend-1")

	if got := collectPendingGauge(t, reader); len(got) != 0 {
		t.Fatalf("gauge after unregister = %v, want no data points", got)
	}
}

// TestObserverDiscoverer verifies the stream wrapper registers inserted
// endpoints and unregisters removed keys as changes flow through.
func TestObserverDiscoverer(t *testing.T) {
	o, reader := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	feed := testutils.NewDiscoverer()
	stream := o.Discoverer(pending.NewDiscoverer(feed))

	key := testutils.EndpointKey()
	feed.Insert(key, testutils.NewEndpoint())
	change, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if change.Key != key || change.Op != load.Insert {
		t.Fatalf("Next() = {%v %q}, want {%v %q}", change.Op, change.Key, load.Insert, key)
	}

	got := collectPendingGauge(t, reader)
	if _, ok := got[key]; !ok {
		t.Fatalf("gauge after insert = %v, want data point for %q", got, key)
	}

	feed.Remove(key)
	if _, err := stream.Next(ctx); err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if got := collectPendingGauge(t, reader); len(got) != 0 {
		t.Fatalf("gauge after remove = %v, want no data points", got)
	}
}

// TestObserverClose verifies no data points are produced after Close.
func TestObserverClose(t *testing.T) {
	o, reader := setup(t)
	o.Register("backend-1", pending.New(testutils.NewEndpoint()))
	if err := o.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := collectPendingGauge(t, reader); len(got) != 0 {
		t.Fatalf("gauge after Close = %v, want no data points", got)
	}
}
