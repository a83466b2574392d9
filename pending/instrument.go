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

import "github.com/lbkit/load"

// Instrument transforms the outcome of a dispatch. It is invoked exactly once
// per dispatch, at the moment the dispatch resolves (successfully or not),
// and decides when the dispatch's Handle is released.
//
// Implementations must not block and should be side-effect-light: they run on
// the completion path of every dispatch.
type Instrument interface {
	Instrument(h *Handle, res load.Result) load.Result
}

// NoInstrument releases the handle as soon as the dispatch resolves: a
// dispatch counts as pending until its completion and no longer. It is the
// default strategy.
type NoInstrument struct{}

// Instrument implements Instrument. It returns res unchanged.
func (NoInstrument) Instrument(h *Handle, res load.Result) load.Result {
	h.Release()
	return res
}

// KeepHandle defers release to the caller: the dispatch keeps counting as
// pending after resolution, until the caller invokes the returned Result's
// Release. Use it when work that follows completion, such as consuming a
// response downstream, should still count toward load.
type KeepHandle struct{}

// Instrument implements Instrument. It chains the handle's release in front
// of any Release already present on res.
func (KeepHandle) Instrument(h *Handle, res load.Result) load.Result {
	prev := res.Release
	res.Release = func() {
		h.Release()
		if prev != nil {
			prev()
		}
	}
	return res
}
