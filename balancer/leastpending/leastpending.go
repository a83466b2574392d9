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

// Package leastpending selects endpoints by sampling a fixed number of random
// candidates and choosing the one with the fewest pending requests. It is a
// reference consumer of the load metric exposed by the pending package; the
// measurement core does not depend on it.
package leastpending

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"

	"github.com/lbkit/load"
)

// Name is the name of the least pending picker.
const Name = "least_pending"

const (
	defaultChoiceCount = 2
	minChoiceCount     = 2
	maxChoiceCount     = 10
)

// ErrNoEndpointAvailable is returned by Pick when no candidate is ready.
var ErrNoEndpointAvailable = errors.New("least-pending: no endpoint available")

// Config configures a Picker.
type Config struct {
	// ChoiceCount is the number of random endpoints to sample to try and find
	// the one with the fewest pending requests. If unset, defaults to 2. If
	// set to > 10, it becomes 10; values < 2 are rejected.
	ChoiceCount uint32 `json:"choiceCount,omitempty"`
}

// ParseConfig unmarshals and validates a JSON picker config.
func ParseConfig(js json.RawMessage) (*Config, error) {
	cfg := &Config{ChoiceCount: defaultChoiceCount}
	if len(js) > 0 {
		if err := json.Unmarshal(js, cfg); err != nil {
			return nil, fmt.Errorf("least-pending: unable to unmarshal config: %v", err)
		}
	}
	if cfg.ChoiceCount < minChoiceCount {
		return nil, fmt.Errorf("least-pending: choiceCount: %v, must be >= %v", cfg.ChoiceCount, minChoiceCount)
	}
	if cfg.ChoiceCount > maxChoiceCount {
		cfg.ChoiceCount = maxChoiceCount
	}
	return cfg, nil
}

// Endpoint is what the picker selects over: a dispatchable endpoint that
// reports its load. *pending.Endpoint satisfies it.
type Endpoint interface {
	load.Endpoint
	load.Reporter
}

// Picker picks the least loaded of a random sample of endpoints.
type Picker struct {
	choiceCount uint32
	randUint32  func() uint32 // stubbed out in tests
}

// New returns a picker for cfg. A nil cfg uses defaults.
func New(cfg *Config) *Picker {
	p := &Picker{choiceCount: defaultChoiceCount, randUint32: rand.Uint32}
	if cfg != nil && cfg.ChoiceCount != 0 {
		p.choiceCount = cfg.ChoiceCount
	}
	return p
}

// Pick samples choiceCount random ready endpoints from candidates and returns
// the one with the fewest pending requests at sampling time. Candidates that
// are not ready are excluded before sampling.
func (p *Picker) Pick(candidates []Endpoint) (Endpoint, error) {
	ready := make([]Endpoint, 0, len(candidates))
	for _, e := range candidates {
		if e.Ready() {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		return nil, ErrNoEndpointAvailable
	}

	var picked Endpoint
	var pickedLoad load.Count
	for i := uint32(0); i < p.choiceCount; i++ {
		e := ready[p.randUint32()%uint32(len(ready))]
		l := e.Load()
		if picked == nil || l < pickedLoad {
			picked, pickedLoad = e, l
		}
	}
	return picked, nil
}
