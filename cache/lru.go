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

// Package cache provides a bounded least-recently-used cache with usage
// statistics, and a single-flight wrapper for memoizing fetches through it.
package cache

import (
	"fmt"
	"sync"
)

// Cache implements an LRU cache with a particular maximum size. All methods
// are safe for concurrent use. The zero value is not usable; call New.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	m       map[K]*listNode[cacheEntry[K, V]]
	l       *list[cacheEntry[K, V]]
	maxSize int
	onEvict func(K, V)

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheEntry[K, V any] struct {
	k K
	v V
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvictionHook installs fn to be called for every entry leaving the
// cache, whether evicted for space, deleted, displaced by Resize, or
// dropped by Clear. fn runs with the cache lock held; it must not call
// back into the cache.
func WithEvictionHook[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

func New[K comparable, V any](size int, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		m:       make(map[K]*listNode[cacheEntry[K, V]], size+1),
		l:       new(list[cacheEntry[K, V]]),
		maxSize: size,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Set inserts an element into the cache, evicting the least-recently-used
// element if necessary to keep the size bounded. If the key is already
// present its value is updated and the entry becomes most recently used.
func (c *Cache[K, V]) Set(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ln, ok := c.m[k]; ok {
		ln.value.v = v
		c.l.MoveToFront(ln)
		// No change in size.
		return
	}

	if len(c.m) < c.maxSize {
		// The key is new, and there is space in the cache.
		c.m[k] = c.l.Push(cacheEntry[K, V]{k: k, v: v})
		return
	}
	// We have to delete something; reuse the tail node to avoid an
	// allocation.
	ln := c.l.tail
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(ln.value.k, ln.value.v)
	}
	delete(c.m, ln.value.k)
	ln.value.k = k
	ln.value.v = v
	c.m[k] = ln
	c.l.MoveToFront(ln)
}

// Get returns the value associated with the given key, and whether it was
// found. A hit moves the entry to the front of the LRU list.
func (c *Cache[K, V]) Get(k K) (v V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, ok := c.m[k]
	if !ok {
		c.misses++
		return v, false
	}
	c.hits++
	c.l.MoveToFront(ln)
	return ln.value.v, true
}

// Peek returns the value for the given key without affecting its recency
// or the hit/miss counters.
func (c *Cache[K, V]) Peek(k K) (v V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, ok := c.m[k]
	if !ok {
		return v, false
	}
	return ln.value.v, true
}

// Has reports whether the key is present, without affecting recency.
func (c *Cache[K, V]) Has(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[k]
	return ok
}

// Delete removes the entry for the given key, invoking the eviction hook,
// and reports whether it was present.
func (c *Cache[K, V]) Delete(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, ok := c.m[k]
	if !ok {
		return false
	}
	if c.onEvict != nil {
		c.onEvict(ln.value.k, ln.value.v)
	}
	delete(c.m, k)
	c.l.Remove(ln)
	return true
}

// Resize changes the maximum size, evicting from the LRU tail until the
// cache fits.
func (c *Cache[K, V]) Resize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = n
	for len(c.m) > c.maxSize {
		ln := c.l.tail
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(ln.value.k, ln.value.v)
		}
		delete(c.m, ln.value.k)
		c.l.Remove(ln)
	}
}

// Clear invokes the eviction hook for every entry, then empties the cache.
// Statistics are preserved.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onEvict != nil {
		for n := c.l.head; n != nil; n = n.next {
			c.onEvict(n.value.k, n.value.v)
		}
	}
	c.m = make(map[K]*listNode[cacheEntry[K, V]], c.maxSize+1)
	c.l = new(list[cacheEntry[K, V]])
}

// Len returns the number of entries currently cached.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Keys returns the cached keys in most- to least-recently-used order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks := make([]K, 0, len(c.m))
	for n := c.l.head; n != nil; n = n.next {
		ks = append(ks, n.value.k)
	}
	return ks
}

// Stats is a point-in-time snapshot of cache usage counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Count     int
	// HitRate is hits as a rounded percentage of lookups, 0 when there
	// have been none.
	HitRate int
}

func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Count:     len(c.m),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = int((c.hits*100 + total/2) / total)
	}
	return s
}

// list is a doubly-linked list.
type list[T any] struct {
	head, tail *listNode[T]
}

// listNode is a single element in a list.
type listNode[T any] struct {
	value T

	prev, next *listNode[T]
}

// Push inserts a new element at the front of the list. It returns the
// listNode that was added.
func (l *list[T]) Push(v T) *listNode[T] {
	n := &listNode[T]{value: v, next: l.head}
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	return l.head
}

// MoveToFront moves the provided listNode to the front of the list. n is
// assumed to already be an element of the list.
func (l *list[T]) MoveToFront(n *listNode[T]) {
	if n == l.head {
		return
	}
	if n == l.tail {
		l.tail = n.prev
	}
	n.prev.next = n.next
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev = nil
	n.next = l.head
	l.head.prev = n
	l.head = n
}

// Remove unlinks n from the list. n is assumed to be an element of the
// list.
func (l *list[T]) Remove(n *listNode[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (l *list[T]) String() string {
	var vals []string
	for n := l.head; n != nil; n = n.next {
		vals = append(vals, fmt.Sprint(n.value))
	}
	return fmt.Sprint(vals)
}
