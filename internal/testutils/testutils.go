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

// Package testutils provides controllable fakes for the load boundary types.
package testutils

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lbkit/load"
)

// Completion is a load.Completion that resolves on demand.
type Completion struct {
	done chan struct{}
	res  load.Result
	once sync.Once
}

// NewCompletion returns an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve resolves the completion with res. Calls after the first are
// no-ops.
func (c *Completion) Resolve(res load.Result) {
	c.once.Do(func() {
		c.res = res
		close(c.done)
	})
}

// Done implements load.Completion.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result implements load.Completion.
func (c *Completion) Result() load.Result {
	<-c.done
	return c.res
}

// Endpoint is a fake dispatchable endpoint. Every dispatch stays pending
// until the test resolves it through ResolveNext or ResolveAll.
type Endpoint struct {
	mu       sync.Mutex
	notReady bool
	pending  []*Completion
}

// NewEndpoint returns a ready fake endpoint with no pending dispatches.
func NewEndpoint() *Endpoint {
	return &Endpoint{}
}

// SetReady overrides the endpoint's readiness.
func (e *Endpoint) SetReady(ready bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notReady = !ready
}

// Ready implements load.Endpoint.
func (e *Endpoint) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.notReady
}

// Dispatch implements load.Endpoint.
func (e *Endpoint) Dispatch(context.Context, any) load.Completion {
	c := NewCompletion()
	e.mu.Lock()
	e.pending = append(e.pending, c)
	e.mu.Unlock()
	return c
}

// ResolveNext resolves the oldest unresolved dispatch with res and reports
// whether there was one.
func (e *Endpoint) ResolveNext(res load.Result) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return false
	}
	c := e.pending[0]
	e.pending = e.pending[1:]
	c.Resolve(res)
	return true
}

// ResolveAll resolves every unresolved dispatch with res.
func (e *Endpoint) ResolveAll(res load.Result) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, c := range pending {
		c.Resolve(res)
	}
}

// Discoverer is a fake discovery stream fed by the test.
type Discoverer struct {
	changes chan load.Change
	errs    chan error
}

// NewDiscoverer returns a fake discovery stream with room for 16 buffered
// changes.
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		changes: make(chan load.Change, 16),
		errs:    make(chan error, 1),
	}
}

// Insert queues an Insert change for key.
func (d *Discoverer) Insert(key string, ep load.Endpoint) {
	d.changes <- load.Change{Op: load.Insert, Key: key, Endpoint: ep}
}

// Remove queues a Remove change for key.
func (d *Discoverer) Remove(key string) {
	d.changes <- load.Change{Op: load.Remove, Key: key}
}

// InjectError queues a discovery error.
func (d *Discoverer) InjectError(err error) {
	d.errs <- err
}

// Next implements load.Discoverer. Queued changes are yielded before queued
// errors.
func (d *Discoverer) Next(ctx context.Context) (load.Change, error) {
	select {
	case change := <-d.changes:
		return change, nil
	default:
	}
	select {
	case change := <-d.changes:
		return change, nil
	case err := <-d.errs:
		return load.Change{}, err
	case <-ctx.Done():
		return load.Change{}, ctx.Err()
	}
}

// EndpointKey returns a unique endpoint key.
func EndpointKey() string {
	return "endpoint-" + uuid.NewString()
}
