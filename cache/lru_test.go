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
	"math/rand"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCache(t *testing.T) {
	const size = 100
	c := New[int, int](size)
	// First add exactly size elements.
	for i := 0; i < size; i++ {
		c.Set(i, ^i)
	}
	for i := 0; i < size; i++ {
		j, ok := c.Get(i)
		if !ok {
			t.Fatalf("Get after %d Sets: %d not present", size, i)
		}
		if j != ^i {
			t.Fatalf("Get(%d): want %d, got: %d", i, ^i, j)
		}
	}
	// Add another 10. We've just asked for 0-size-1 in order, so 0-9 should
	// be evicted.
	for i := size; i < size+10; i++ {
		c.Set(i, ^i)
	}
	for i := 0; i < 10; i++ {
		if j, ok := c.Get(i); ok {
			t.Fatalf("Get(%d) after %d Sets: should not be present, got: %d", i, size+10, j)
		}
	}
	// Make sure Set marks things as recently used even if they already
	// exist, and updates the value.
	c.Set(10, ^0) // should be next in line for eviction.
	c.Set(0, ^0)
	if got, ok := c.Get(10); !ok {
		t.Fatal("Expect 10 to not be evicted, but it was")
	} else if got != ^0 {
		t.Fatal("Wrong value after update")
	}
}

// checkInvariants verifies that the map and list agree and that the size
// bound holds.
func checkInvariants[K comparable, V any](t *testing.T, c *Cache[K, V]) {
	t.Helper()
	keys := c.Keys()
	if len(keys) != c.Len() {
		t.Fatalf("list has %d keys, map has %d", len(keys), c.Len())
	}
	if c.Len() > c.maxSize {
		t.Fatalf("size %d exceeds max %d", c.Len(), c.maxSize)
	}
	seen := make(map[K]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate key %v on list", k)
		}
		seen[k] = true
		if _, ok := c.Peek(k); !ok {
			t.Fatalf("list key %v missing from map", k)
		}
	}
	if c.l.head != nil && c.l.head.prev != nil {
		t.Fatal("head.prev is not nil")
	}
	if c.l.tail != nil && c.l.tail.next != nil {
		t.Fatal("tail.next is not nil")
	}
}

func TestCacheInvariantsUnderChurn(t *testing.T) {
	c := New[int, int](16)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		k := rng.Intn(64)
		switch rng.Intn(5) {
		case 0:
			c.Set(k, i)
		case 1:
			c.Get(k)
		case 2:
			c.Delete(k)
		case 3:
			c.Peek(k)
		case 4:
			c.Has(k)
		}
		checkInvariants(t, c)
	}
	// Shrinking and growing keeps the invariants too.
	c.Resize(4)
	checkInvariants(t, c)
	c.Resize(32)
	checkInvariants(t, c)
}

func TestCacheGetPromotes(t *testing.T) {
	c := New[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a not present")
	}
	if diff := cmp.Diff([]string{"a", "c", "b"}, c.Keys()); diff != "" {
		t.Errorf("Keys() after Get(a): (-want +got):\n%s", diff)
	}
	// Peek and Has must not promote.
	c.Peek("b")
	c.Has("b")
	if diff := cmp.Diff([]string{"a", "c", "b"}, c.Keys()); diff != "" {
		t.Errorf("Keys() after Peek/Has: (-want +got):\n%s", diff)
	}
	// The next insertion evicts the LRU tail, which is still b.
	c.Set("d", 4)
	if c.Has("b") {
		t.Error("b should have been evicted")
	}
}

func TestCacheDeleteSoleNode(t *testing.T) {
	c := New[string, int](4)
	c.Set("only", 1)
	if !c.Delete("only") {
		t.Fatal("Delete returned false")
	}
	if c.l.head != nil || c.l.tail != nil {
		t.Fatal("head/tail not nil after removing sole node")
	}
	if c.Delete("only") {
		t.Fatal("second Delete returned true")
	}
}

func TestCacheEvictionHook(t *testing.T) {
	var evicted []string
	c := New[string, int](2, WithEvictionHook[string, int](func(k string, v int) {
		evicted = append(evicted, k)
	}))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts a
	c.Delete("b")
	c.Set("d", 4)
	c.Set("e", 5) // evicts c
	c.Clear()     // drops e, d
	want := []string{"a", "b", "c", "e", "d"}
	if diff := cmp.Diff(want, evicted); diff != "" {
		t.Errorf("eviction order: (-want +got):\n%s", diff)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

func TestCacheResizeEvicts(t *testing.T) {
	var evicted []int
	c := New[int, int](4, WithEvictionHook[int, int](func(k, v int) {
		evicted = append(evicted, k)
	}))
	for i := 1; i <= 4; i++ {
		c.Set(i, i)
	}
	c.Resize(2)
	if diff := cmp.Diff([]int{1, 2}, evicted); diff != "" {
		t.Errorf("evicted: (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4, 3}, c.Keys()); diff != "" {
		t.Errorf("Keys(): (-want +got):\n%s", diff)
	}
}

func TestCacheStats(t *testing.T) {
	c := New[string, int](2)
	if got := c.Stats(); got.HitRate != 0 {
		t.Errorf("HitRate with no lookups = %d; want 0", got.HitRate)
	}
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")
	c.Set("b", 2)
	c.Set("c", 3) // evicts a
	want := Stats{Hits: 2, Misses: 1, Evictions: 1, Count: 2, HitRate: 67}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats(): (-want +got):\n%s", diff)
	}
}

func TestListPush(t *testing.T) {
	var (
		l    list[int]
		want []int
	)
	for i := 0; i < 10; i++ {
		ln := l.Push(i)
		if ln.value != i {
			t.Fatalf("value mismatch: want: %d, got: %d", i, ln.value)
		}
		want = append([]int{i}, want...)
	}
	var got []int
	for n := l.head; n != nil; n = n.next {
		got = append(got, n.value)
	}
	if !slices.Equal(want, got) {
		t.Fatalf("Mismatch after 10 Pushes:\nwant: %v\n got: %v", want, got)
	}
}

func TestListMoveToFront(t *testing.T) {
	var (
		l    list[int]
		want []int
	)
	for i := 0; i < 100; i++ {
		l.Push(i)
		want = append([]int{i}, want...)
	}

	pick := func() (int, *listNode[int]) {
		n := rand.Intn(len(want))
		ln := l.head
		for i := 0; i < n && ln != nil; i++ {
			ln = ln.next
		}
		if ln == nil {
			t.Fatal("not enough elements in list?")
		}
		return n, ln
	}

	for i := 0; i < 1000; i++ {
		j, ln := pick()
		if ln.value != want[j] {
			t.Fatalf("mismatch at position %d: want: %d, got %d\nslice: %v\n list: %v", j, want[j], ln.value, want, l)
		}
		// shuffle everything up to cover position j
		copy(want[1:j+1], want[:j])
		want[0] = ln.value
		l.MoveToFront(ln)
		var got []int
		for ln := l.head; ln != nil; ln = ln.next {
			got = append(got, ln.value)
		}
		if !slices.Equal(want, got) {
			t.Fatalf("mismatch after %d MoveToFront:\nwant: %v\n got: %v", i+1, want, got)
		}
	}
}
