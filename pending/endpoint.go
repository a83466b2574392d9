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

package pending

import (
	"context"

	"github.com/lbkit/load"
	"github.com/lbkit/load/internal/logging"
)

var logger = logging.Component("pending")

// Endpoint wraps a dispatchable endpoint and reports its load as the number
// of currently-pending dispatches.
//
// The decorator owns the counter cell's baseline reference and Load subtracts
// exactly that one reference from the live count. Do not copy an Endpoint: a
// copy would not add a second baseline reference, but it would let two owners
// dispatch against one cell, and the "exactly one non-handle reference"
// assumption behind Load would no longer be re-derivable.
type Endpoint struct {
	inner load.Endpoint
	refs  *refCount
	inst  Instrument
}

type options struct {
	inst Instrument
}

// Option configures an Endpoint or Discoverer at construction time.
type Option func(*options)

// WithInstrument selects the instrumentation strategy applied to every
// dispatch. It is fixed once construction completes; the default is
// NoInstrument.
func WithInstrument(inst Instrument) Option {
	return func(o *options) { o.inst = inst }
}

// New returns inner decorated with pending-request load measurement. The
// decoration is transparent: callers dispatch and check readiness exactly as
// they would on inner.
func New(inner load.Endpoint, opts ...Option) *Endpoint {
	o := options{inst: NoInstrument{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Endpoint{inner: inner, refs: newRefCount(), inst: o.inst}
}

// Load returns the number of dispatches currently counted as pending. It is
// a pure read: no blocking, no mutation, callable from any goroutine.
func (e *Endpoint) Load() load.Count {
	// Count the references that aren't the decorator's own. The baseline
	// reference outlives any read made through e, but guard the subtraction
	// anyway rather than letting a zero read underflow.
	n := e.refs.count()
	if n < 1 {
		return 0
	}
	return load.Count(n - 1)
}

// Ready reports whether the inner endpoint can accept a dispatch.
func (e *Endpoint) Ready() bool {
	return e.inner.Ready()
}

// Dispatch forwards req to the inner endpoint and returns a completion that
// resolves when the inner completion does, with the configured
// instrumentation applied to the outcome.
//
// The inner result is forwarded verbatim apart from that transform. If ctx is
// cancelled before the inner completion resolves, the dispatch's handle is
// released immediately and the returned completion resolves with ctx's error:
// an abandoned dispatch stops counting as pending without any explicit cancel
// signal.
func (e *Endpoint) Dispatch(ctx context.Context, req any) load.Completion {
	h := newHandle(e.refs)
	inner := e.inner.Dispatch(ctx, req)
	c := &completion{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		select {
		case <-inner.Done():
			c.res = e.inst.Instrument(h, inner.Result())
		case <-ctx.Done():
			h.Release()
			c.res = load.Result{Err: ctx.Err()}
		}
	}()
	return c
}

type completion struct {
	done chan struct{}
	res  load.Result // written once, before done is closed
}

func (c *completion) Done() <-chan struct{} {
	return c.done
}

func (c *completion) Result() load.Result {
	<-c.done
	return c.res
}
