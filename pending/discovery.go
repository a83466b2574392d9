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
)

// Discoverer wraps a discovery change stream so that every inserted endpoint
// is decorated with pending-request load measurement. It keeps no state of
// its own beyond the construction options: authoritative ownership of the
// endpoint set stays with the underlying stream.
type Discoverer struct {
	inner load.Discoverer
	opts  []Option
}

// NewDiscoverer returns inner with load measurement applied to every
// inserted endpoint. opts, typically a WithInstrument selection, are applied
// to each decorated endpoint and are fixed for the lifetime of the stream.
func NewDiscoverer(inner load.Discoverer, opts ...Option) *Discoverer {
	return &Discoverer{inner: inner, opts: opts}
}

// Next yields the next change from the underlying stream: exactly one change
// per underlying change, in order. Insert changes are re-emitted with the
// endpoint decorated; Remove changes and discovery errors are forwarded
// untouched.
func (d *Discoverer) Next(ctx context.Context) (load.Change, error) {
	change, err := d.inner.Next(ctx)
	if err != nil {
		return load.Change{}, err
	}
	if change.Op == load.Insert {
		if logger.V(2) {
			logger.Infof("decorating inserted endpoint %q", change.Key)
		}
		change.Endpoint = New(change.Endpoint, d.opts...)
	}
	return change, nil
}
