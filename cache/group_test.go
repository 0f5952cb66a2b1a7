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

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGroupMemoizes(t *testing.T) {
	g := NewGroup[int](8)
	var calls atomic.Int64
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		v, err := g.Do(ctx, "k", fetch)
		if err != nil {
			t.Fatal(err)
		}
		if v != 42 {
			t.Fatalf("Do = %d; want 42", v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times; want 1", n)
	}
}

func TestGroupSingleFlight(t *testing.T) {
	g := NewGroup[int](8)
	var calls atomic.Int64
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return 7, nil
	}
	ctx := context.Background()
	const n = 8
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.Do(ctx, "shared", fetch)
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}(i)
	}
	// Let the callers pile onto the flight, then release it.
	<-started
	close(release)
	wg.Wait()
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch ran %d times under %d concurrent callers; want 1", got, n)
	}
	for i, v := range results {
		if v != 7 {
			t.Errorf("caller %d got %d; want 7", i, v)
		}
	}
}

func TestGroupErrorNotCached(t *testing.T) {
	g := NewGroup[int](8)
	var calls int
	boom := errors.New("boom")
	fetch := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 9, nil
	}
	ctx := context.Background()
	if _, err := g.Do(ctx, "k", fetch); !errors.Is(err, boom) {
		t.Fatalf("first Do: err = %v; want boom", err)
	}
	v, err := g.Do(ctx, "k", fetch)
	if err != nil || v != 9 {
		t.Fatalf("second Do = %d, %v; want 9, nil", v, err)
	}
	if calls != 2 {
		t.Errorf("fetch ran %d times; want 2", calls)
	}
}

func TestGroupForget(t *testing.T) {
	g := NewGroup[int](8)
	ctx := context.Background()
	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	if v, _ := g.Do(ctx, "k", fetch); v != 1 {
		t.Fatalf("first Do = %d; want 1", v)
	}
	g.Forget("k")
	if v, _ := g.Do(ctx, "k", fetch); v != 2 {
		t.Fatalf("Do after Forget = %d; want 2", v)
	}
}
