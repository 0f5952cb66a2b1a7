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

package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Exports is a parsed "exports" field. Condition objects are
// order-sensitive, so the nodes preserve document order rather than using
// Go maps. The zero Exports resolves nothing.
type Exports struct {
	root *exportsNode
}

// IsZero reports whether the manifest declared no exports.
func (e Exports) IsZero() bool { return e.root == nil }

type exportsNode struct {
	// Exactly one of these shapes is set.
	str     string
	isStr   bool
	isNull  bool
	entries []exportsEntry // object, in document order
}

type exportsEntry struct {
	key  string
	node *exportsNode
}

// parseExports decodes the raw exports value preserving object key order.
func parseExports(raw json.RawMessage) (Exports, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	node, err := decodeExportsNode(dec)
	if err != nil {
		return Exports{}, fmt.Errorf("manifest: exports: %w", err)
	}
	return Exports{root: node}, nil
}

func decodeExportsNode(dec *json.Decoder) (*exportsNode, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case string:
		return &exportsNode{str: t, isStr: true}, nil
	case nil:
		return &exportsNode{isNull: true}, nil
	case json.Delim:
		if t != '{' {
			return nil, fmt.Errorf("unsupported exports value %v", t)
		}
		n := &exportsNode{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("non-string exports key %v", keyTok)
			}
			child, err := decodeExportsNode(dec)
			if err != nil {
				return nil, err
			}
			n.entries = append(n.entries, exportsEntry{key: key, node: child})
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported exports value %v", tok)
	}
}

// Resolve maps a subpath ("." or "./lib/util") under the given conditions
// to a concrete relative path. Conditions are tried in the caller's order,
// then "default"; the caller expresses module mode by including "import"
// or "require" in the list. The second result is false when the subpath is
// not exported or is explicitly blocked with null.
func (e Exports) Resolve(subpath string, conditions []string) (string, bool) {
	if e.root == nil {
		return "", false
	}
	if subpath == "" {
		subpath = "."
	}
	target, capture, ok := e.root.selectSubpath(subpath)
	if !ok {
		return "", false
	}
	return resolveConditions(target, capture, conditions)
}

// selectSubpath picks the node for the given subpath. A root that is a
// bare string or a condition object is sugar for {".": value}.
func (n *exportsNode) selectSubpath(subpath string) (node *exportsNode, capture string, ok bool) {
	if n.isStr || n.isNull || !n.isSubpathMap() {
		if subpath == "." {
			return n, "", true
		}
		return nil, "", false
	}
	// Exact match wins.
	for _, e := range n.entries {
		if e.key == subpath {
			return e.node, "", true
		}
	}
	// Otherwise the pattern with the longest static prefix wins.
	bestLen := -1
	for _, e := range n.entries {
		star := strings.IndexByte(e.key, '*')
		if star < 0 {
			continue
		}
		prefix, suffix := e.key[:star], e.key[star+1:]
		if !strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) {
			continue
		}
		if len(subpath) < len(prefix)+len(suffix) {
			continue
		}
		if len(prefix) > bestLen {
			bestLen = len(prefix)
			node = e.node
			capture = subpath[len(prefix) : len(subpath)-len(suffix)]
		}
	}
	if bestLen >= 0 {
		return node, capture, true
	}
	return nil, "", false
}

// isSubpathMap reports whether the object's keys name subpaths rather than
// conditions. npm forbids mixing the two, so inspecting the first key is
// enough.
func (n *exportsNode) isSubpathMap() bool {
	if len(n.entries) == 0 {
		return false
	}
	return strings.HasPrefix(n.entries[0].key, ".")
}

func resolveConditions(n *exportsNode, capture string, conditions []string) (string, bool) {
	switch {
	case n.isNull:
		return "", false // explicitly blocked
	case n.isStr:
		return expandPattern(n.str, capture), true
	}
	// Condition object: caller conditions in order, then "default".
	for _, cond := range append(append([]string{}, conditions...), "default") {
		for _, e := range n.entries {
			if e.key != cond {
				continue
			}
			if p, ok := resolveConditions(e.node, capture, conditions); ok {
				return p, ok
			}
			if e.node.isNull {
				return "", false
			}
		}
	}
	return "", false
}

func expandPattern(target, capture string) string {
	return strings.Replace(target, "*", capture, 1)
}
