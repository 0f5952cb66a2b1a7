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

	"golang.org/x/sync/singleflight"
)

// Group memoizes a fetch function through a Cache with the single-flight
// guarantee: at most one fetch is outstanding per key, and concurrent
// callers for the same key share its result.
type Group[V any] struct {
	cache *Cache[string, V]
	sf    singleflight.Group
}

// NewGroup creates a Group backed by a fresh Cache of the given size.
func NewGroup[V any](size int) *Group[V] {
	return &Group[V]{cache: New[string, V](size)}
}

// Do returns the cached value for key, or runs fetch to produce it.
// Errors are not cached: a failed fetch leaves the key absent so a later
// call retries.
func (g *Group[V]) Do(ctx context.Context, key string, fetch func(context.Context) (V, error)) (V, error) {
	if v, ok := g.cache.Get(key); ok {
		return v, nil
	}
	res, err, _ := g.sf.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the entry between our miss and here.
		if v, ok := g.cache.Peek(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		g.cache.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Forget drops the cached value for key, if any, and detaches future
// callers from any in-flight fetch for it.
func (g *Group[V]) Forget(key string) {
	g.sf.Forget(key)
	g.cache.Delete(key)
}

// Cache exposes the underlying cache, for statistics and direct access.
func (g *Group[V]) Cache() *Cache[string, V] { return g.cache }
