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

package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lbkit/load"
	"github.com/lbkit/load/balancer/leastpending"
)

// simEndpoint is an always-ready endpoint whose completions resolve after a
// random latency.
type simEndpoint struct {
	maxLatency time.Duration
}

func (e *simEndpoint) Ready() bool { return true }

func (e *simEndpoint) Dispatch(ctx context.Context, req any) load.Completion {
	c := &simCompletion{done: make(chan struct{})}
	delay := time.Duration(rand.Int63n(int64(e.maxLatency) + 1))
	time.AfterFunc(delay, func() {
		c.res = load.Result{Reply: req}
		close(c.done)
	})
	return c
}

type simCompletion struct {
	done chan struct{}
	res  load.Result
}

func (c *simCompletion) Done() <-chan struct{} { return c.done }

func (c *simCompletion) Result() load.Result {
	<-c.done
	return c.res
}

// simDiscoverer emits one Insert per simulated endpoint and then, when churn
// is enabled, replaces a random endpoint every churn interval: a Remove of
// the old key followed by an Insert with a fresh one. It is polled by a
// single consumer.
type simDiscoverer struct {
	maxLatency time.Duration
	churn      time.Duration
	keys       []string
	queued     chan load.Change
}

func newSimDiscoverer(n int, churn, maxLatency time.Duration) *simDiscoverer {
	d := &simDiscoverer{
		maxLatency: maxLatency,
		churn:      churn,
		queued:     make(chan load.Change, n+1),
	}
	for i := 0; i < n; i++ {
		key := "sim-" + uuid.NewString()
		d.keys = append(d.keys, key)
		d.queued <- load.Change{Op: load.Insert, Key: key, Endpoint: &simEndpoint{maxLatency: maxLatency}}
	}
	return d
}

func (d *simDiscoverer) Next(ctx context.Context) (load.Change, error) {
	select {
	case change := <-d.queued:
		return change, nil
	default:
	}

	if d.churn <= 0 || len(d.keys) == 0 {
		<-ctx.Done()
		return load.Change{}, ctx.Err()
	}

	timer := time.NewTimer(d.churn)
	defer timer.Stop()
	select {
	case change := <-d.queued:
		return change, nil
	case <-timer.C:
		i := rand.Intn(len(d.keys))
		old := d.keys[i]
		fresh := "sim-" + uuid.NewString()
		d.keys[i] = fresh
		d.queued <- load.Change{Op: load.Insert, Key: fresh, Endpoint: &simEndpoint{maxLatency: d.maxLatency}}
		return load.Change{Op: load.Remove, Key: old}, nil
	case <-ctx.Done():
		return load.Change{}, ctx.Err()
	}
}

// endpointSet is the consumer-side view of the discovered set, updated only
// from change events.
type endpointSet struct {
	mu  sync.Mutex
	eps map[string]leastpending.Endpoint
}

func newEndpointSet() *endpointSet {
	return &endpointSet{eps: make(map[string]leastpending.Endpoint)}
}

func (s *endpointSet) apply(change load.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch change.Op {
	case load.Insert:
		if e, ok := change.Endpoint.(leastpending.Endpoint); ok {
			s.eps[change.Key] = e
		}
	case load.Remove:
		delete(s.eps, change.Key)
	}
}

func (s *endpointSet) snapshot() []leastpending.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]leastpending.Endpoint, 0, len(s.eps))
	for _, e := range s.eps {
		out = append(out, e)
	}
	return out
}
