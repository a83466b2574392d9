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

package leastpending

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lbkit/load"
	"github.com/lbkit/load/internal/testutils"
	"github.com/lbkit/load/pending"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantCfg *Config
		wantErr string
	}{
		{
			name:    "empty-uses-default",
			input:   ``,
			wantCfg: &Config{ChoiceCount: 2},
		},
		{
			name:    "explicit-choice-count",
			input:   `{"choiceCount": 3}`,
			wantCfg: &Config{ChoiceCount: 3},
		},
		{
			name:    "choice-count-clamped-to-max",
			input:   `{"choiceCount": 32}`,
			wantCfg: &Config{ChoiceCount: 10},
		},
		{
			name:    "choice-count-too-small",
			input:   `{"choiceCount": 1}`,
			wantErr: "must be >= 2",
		},
		{
			name:    "invalid-json",
			input:   `{{invalidjson{{`,
			wantErr: "unable to unmarshal",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			gotCfg, gotErr := ParseConfig(json.RawMessage(test.input))
			if (gotErr != nil) != (test.wantErr != "") {
				t.Fatalf("ParseConfig(%v) = %v, wantErr %q", test.input, gotErr, test.wantErr)
			}
			if gotErr != nil {
				if !strings.Contains(gotErr.Error(), test.wantErr) {
					t.Fatalf("ParseConfig(%v) = %v, wantErr %q", test.input, gotErr, test.wantErr)
				}
				return
			}
			if diff := cmp.Diff(test.wantCfg, gotCfg); diff != "" {
				t.Fatalf("ParseConfig(%v) returned unexpected config, diff (-want +got):\n%s", test.input, diff)
			}
		})
	}
}

// buildEndpoints returns decorated fake endpoints with the given pending
// loads already established.
func buildEndpoints(t *testing.T, loads []int) []Endpoint {
	t.Helper()
	endpoints := make([]Endpoint, len(loads))
	for i, n := range loads {
		e := pending.New(testutils.NewEndpoint())
		for j := 0; j < n; j++ {
			e.Dispatch(context.Background(), nil)
		}
		if got := e.Load(); got != load.Count(n) {
			t.Fatalf("endpoint %d: Load() = %v, want %v", i, got, n)
		}
		endpoints[i] = e
	}
	return endpoints
}

// TestPickLeastLoaded verifies that with a deterministic sample the picker
// chooses the candidate with the fewest pending requests.
func TestPickLeastLoaded(t *testing.T) {
	endpoints := buildEndpoints(t, []int{5, 1, 3})

	p := New(nil)
	// Sample indexes 0 then 1: endpoint 1 has the smaller load.
	sample := []uint32{0, 1}
	p.randUint32 = func() uint32 {
		v := sample[0]
		sample = sample[1:]
		return v
	}

	picked, err := p.Pick(endpoints)
	if err != nil {
		t.Fatalf("Pick() failed: %v", err)
	}
	if picked != endpoints[1] {
		t.Fatalf("Pick() chose endpoint with load %v, want load 1", picked.Load())
	}
}

// TestPickSkipsNotReady verifies not-ready endpoints are never candidates.
func TestPickSkipsNotReady(t *testing.T) {
	inner := testutils.NewEndpoint()
	inner.SetReady(false)
	notReady := pending.New(inner)
	ready := pending.New(testutils.NewEndpoint())

	p := New(nil)
	for i := 0; i < 20; i++ {
		picked, err := p.Pick([]Endpoint{notReady, ready})
		if err != nil {
			t.Fatalf("Pick() failed: %v", err)
		}
		if picked != ready {
			t.Fatal("Pick() chose a not-ready endpoint")
		}
	}
}

// TestPickNoEndpoints verifies the error case when nothing is ready.
func TestPickNoEndpoints(t *testing.T) {
	p := New(nil)
	if _, err := p.Pick(nil); err != ErrNoEndpointAvailable {
		t.Fatalf("Pick(nil) error = %v, want %v", err, ErrNoEndpointAvailable)
	}

	inner := testutils.NewEndpoint()
	inner.SetReady(false)
	if _, err := p.Pick([]Endpoint{pending.New(inner)}); err != ErrNoEndpointAvailable {
		t.Fatalf("Pick() error = %v, want %v", err, ErrNoEndpointAvailable)
	}
}

// TestPickSingleEndpoint verifies a sample can repeatedly hit the same
// candidate without issue.
func TestPickSingleEndpoint(t *testing.T) {
	endpoints := buildEndpoints(t, []int{4})
	p := New(&Config{ChoiceCount: 10})
	picked, err := p.Pick(endpoints)
	if err != nil {
		t.Fatalf("Pick() failed: %v", err)
	}
	if picked != endpoints[0] {
		t.Fatal("Pick() did not choose the only endpoint")
	}
}
