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

// Package pending measures endpoint load as the number of currently-pending
// dispatches. It decorates a single endpoint with a lock-free pending-request
// counter, and decorates a discovery stream so that every inserted endpoint
// is measured the same way.
package pending

import "sync/atomic"

// refCount is the counter cell shared between one Endpoint decorator and the
// handles of its in-flight dispatches. The decorator always holds the
// baseline reference, so the pending-request count is the live count minus
// one.
type refCount struct {
	n int64 // accessed atomically
}

func newRefCount() *refCount {
	// The owner's baseline reference.
	return &refCount{n: 1}
}

func (rc *refCount) incr() {
	atomic.AddInt64(&rc.n, 1)
}

func (rc *refCount) decr() {
	atomic.AddInt64(&rc.n, -1)
}

func (rc *refCount) count() int64 {
	return atomic.LoadInt64(&rc.n)
}

// A Handle counts as one unit of outstanding work against an endpoint for as
// long as it is held. The decorator creates one per dispatch; the configured
// Instrument decides when it is released, and with it when the dispatch stops
// counting as pending.
type Handle struct {
	refs     *refCount
	released int32 // accessed atomically
}

func newHandle(rc *refCount) *Handle {
	rc.incr()
	return &Handle{refs: rc}
}

// Release drops the handle's reference. Calls after the first are no-ops, so
// instrumentation chains cannot drive the count negative.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		h.refs.decr()
	}
}
