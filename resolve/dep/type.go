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

/*
Package dep provides data structures for representing dependency types.
*/
package dep

import "strings"

// AttrKey identifies an attribute a dependency edge may carry.
type AttrKey uint8

const (
	// Dev marks a development-only dependency.
	Dev AttrKey = 1 << iota
	// Opt marks an optional dependency.
	Opt
	// Peer marks a peer dependency, which constrains an already-present
	// version rather than materializing one.
	Peer
)

// Type indicates the type of a dependency edge.
//
// The zero value of Type is a regular dependency. Attributes may be added
// to a Type to annotate it with extra details or restrictions.
type Type struct {
	mask uint8
}

// NewType constructs a Type with the given attributes set.
func NewType(attrs ...AttrKey) Type {
	var t Type
	for _, a := range attrs {
		t.AddAttr(a)
	}
	return t
}

// AddAttr adds an attribute to the Type.
func (t *Type) AddAttr(key AttrKey) { t.mask |= uint8(key) }

// HasAttr reports whether the type has the given attribute.
func (t Type) HasAttr(key AttrKey) bool { return t.mask&uint8(key) != 0 }

// IsRegular reports whether the Type is a regular, unattributed Type.
func (t Type) IsRegular() bool { return t.mask == 0 }

// Compare returns -1, 0 or 1 depending on whether the Type is ordered
// before, equal to or after the other Type.
func (t Type) Compare(other Type) int {
	switch {
	case t.mask < other.mask:
		return -1
	case t.mask > other.mask:
		return 1
	default:
		return 0
	}
}

// Equal reports whether the Type is identical to other.
func (t Type) Equal(other Type) bool { return t.mask == other.mask }

func (t Type) String() string {
	if t.mask == 0 {
		return "reg"
	}
	var ss []string
	if t.HasAttr(Dev) {
		ss = append(ss, "dev")
	}
	if t.HasAttr(Opt) {
		ss = append(ss, "opt")
	}
	if t.HasAttr(Peer) {
		ss = append(ss, "peer")
	}
	return strings.Join(ss, "|")
}
