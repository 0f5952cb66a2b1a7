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
Package resolve builds closed, pinned dependency graphs from npm package
manifests and emits deterministic lockfiles for them.
*/
package resolve

import (
	"fmt"

	"sandboxnpm.dev/resolve/dep"
)

// PackageKey identifies a package.
type PackageKey struct {
	Name string
}

func (pk PackageKey) String() string { return pk.Name }

// Compare returns -1, 0 or 1 depending on whether the key sorts before,
// equal to or after the other key.
func (pk PackageKey) Compare(other PackageKey) int {
	switch {
	case pk.Name < other.Name:
		return -1
	case pk.Name > other.Name:
		return 1
	default:
		return 0
	}
}

// VersionKey identifies a concrete version of a package. Identical keys
// always denote the same node of a resolved graph.
type VersionKey struct {
	PackageKey
	Version string
}

func (vk VersionKey) String() string {
	return fmt.Sprintf("%s@%s", vk.Name, vk.Version)
}

// Compare returns -1, 0 or 1 depending on whether the key sorts before,
// equal to or after the other key. The ordering is lexical; it exists for
// determinism, not semver precedence.
func (vk VersionKey) Compare(other VersionKey) int {
	if c := vk.PackageKey.Compare(other.PackageKey); c != 0 {
		return c
	}
	switch {
	case vk.Version < other.Version:
		return -1
	case vk.Version > other.Version:
		return 1
	default:
		return 0
	}
}

// RequirementVersion is a dependency declaration: a package, the range
// demanded of it, and the kind of edge declaring it.
type RequirementVersion struct {
	PackageKey
	Range string
	Type  dep.Type
}

func (rv RequirementVersion) String() string {
	return fmt.Sprintf("%s@%s (%s)", rv.Name, rv.Range, rv.Type)
}

// Dist locates a concrete version's tarball and its content hash.
type Dist struct {
	Resolved  string
	Integrity string
}
