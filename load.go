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

// Package load defines the boundary types shared by the load-measurement
// decorators in this module: dispatchable endpoints, their asynchronous
// completions, the load metric itself, and the discovery change stream that
// reports endpoint population changes over time.
//
// The package contains no behavior of its own. Measurement lives in the
// pending package; consumers of the metric (pickers, metrics bridges) live
// under balancer and stats.
package load

import "context"

// Count is a comparable scalar proxy for current endpoint utilization. Lower
// means less loaded; values from different endpoints may be compared directly
// with <.
type Count uint64

// Reporter reports the current load of an endpoint. Load never blocks, never
// mutates state, and may be called from any goroutine at any time.
type Reporter interface {
	Load() Count
}

// Result is the outcome of a dispatch.
type Result struct {
	// Reply is the endpoint's response, opaque to this module.
	Reply any
	// Err is the dispatch error, if any. Decorators forward it verbatim.
	Err error
	// Release, when non-nil, must be called exactly once when the caller is
	// finished with the outcome. Instrumentation strategies use it to extend
	// pending-request accounting past resolution of the dispatch itself.
	Release func()
}

// Completion is the pending outcome of a dispatch.
type Completion interface {
	// Done returns a channel that is closed once the dispatch has resolved,
	// successfully or not.
	Done() <-chan struct{}
	// Result blocks until the dispatch has resolved and returns its outcome.
	Result() Result
}

// Endpoint is a single backend target capable of accepting dispatched
// requests and producing completions.
type Endpoint interface {
	// Ready reports whether the endpoint can accept a dispatch without
	// blocking.
	Ready() bool
	// Dispatch sends req to the endpoint and returns immediately with a
	// pending completion. Cancelling ctx abandons the dispatch.
	Dispatch(ctx context.Context, req any) Completion
}

// Op is the kind of a discovery change.
type Op int

const (
	// Insert reports a newly discovered endpoint.
	Insert Op = iota
	// Remove reports that an endpoint left the set.
	Remove
)

func (op Op) String() string {
	switch op {
	case Insert:
		return "INSERT"
	case Remove:
		return "REMOVE"
	default:
		return "INVALID_OP"
	}
}

// Change is a single endpoint-set change. Keys are stable and unique per
// logical endpoint for its lifetime in the set.
type Change struct {
	Op  Op
	Key string
	// Endpoint is set for Insert changes and nil for Remove.
	Endpoint Endpoint
}

// Discoverer is a pollable stream of endpoint-set changes.
type Discoverer interface {
	// Next blocks until the next change is available and returns it, or
	// returns a discovery error. Implementations must respect ctx
	// cancellation.
	Next(ctx context.Context) (Change, error)
}
