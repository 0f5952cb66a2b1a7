// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWrap(t *testing.T) {
	plain := errors.New("registry unreachable")
	e := Wrap(plain, EFETCH)
	if e.Code != EFETCH {
		t.Errorf("Code = %s; want EFETCH", e.Code)
	}
	if got := e.Context["cause"]; got != "registry unreachable" {
		t.Errorf("context.cause = %q", got)
	}
	if !errors.Is(e, plain) {
		t.Error("wrapped error lost its cause chain")
	}

	// Wrapping an Error keeps its code.
	if got := Wrap(fmt.Errorf("outer: %w", e), ETIMEOUT); got.Code != EFETCH {
		t.Errorf("re-wrap changed code to %s", got.Code)
	}

	// Default code.
	if got := Wrap(plain, ""); got.Code != EVALIDATION {
		t.Errorf("default code = %s; want EVALIDATION", got.Code)
	}

	if Wrap(nil, EFETCH) != nil {
		t.Error("Wrap(nil) != nil")
	}
}

func TestHasCode(t *testing.T) {
	e := New(ERESOLUTION, "no satisfying version").With("package", "left-pad")
	wrapped := fmt.Errorf("resolve: %w", e)
	if !HasCode(wrapped, ERESOLUTION) {
		t.Error("HasCode(wrapped, ERESOLUTION) = false")
	}
	if HasCode(wrapped, EFETCH) {
		t.Error("HasCode(wrapped, EFETCH) = true")
	}
	if HasCode(errors.New("plain"), ERESOLUTION) {
		t.Error("HasCode(plain, ERESOLUTION) = true")
	}
	if got := CodeOf(wrapped); got != ERESOLUTION {
		t.Errorf("CodeOf = %s", got)
	}
	if got := CodeOf(errors.New("plain")); got != EVALIDATION {
		t.Errorf("CodeOf(plain) = %s", got)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	e := New(ETIMEOUT, "deadline exceeded after 5000ms").
		With("package", "typescript").
		With("version", "5.4.2")
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["name"] != "TimeoutError" || m["code"] != "ETIMEOUT" {
		t.Errorf("wire shape = %v", m)
	}

	var back Error
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e.Message, back.Message); diff != "" {
		t.Errorf("message: (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(e.Context, back.Context); diff != "" {
		t.Errorf("context: (-want +got):\n%s", diff)
	}
}
