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
Package registry is a façade over an npm-compatible registry: URL
composition, retries with backoff, timeouts, JSON decoding and LRU-backed
memoization of package documents and tarballs.
*/
package registry

import (
	"encoding/json"
	"strings"
)

// PackageMetadata is a registry package document ("packument").
type PackageMetadata struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]VersionMetadata `json:"versions"`
	Time     map[string]string          `json:"time,omitempty"`
}

// VersionMetadata describes one published version.
type VersionMetadata struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	Bin                  BinField          `json:"bin,omitempty"`
	Main                 string            `json:"main,omitempty"`
	Module               string            `json:"module,omitempty"`
	Exports              json.RawMessage   `json:"exports,omitempty"`
	Engines              map[string]string `json:"engines,omitempty"`
	Scripts              map[string]string `json:"scripts,omitempty"`
	Gypfile              bool              `json:"gypfile,omitempty"`
	Dist                 Dist              `json:"dist"`
}

// Dist locates and identifies a version's tarball.
type Dist struct {
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
}

// BinField accepts both shapes of the "bin" field: a bare string (the
// package's unscoped name is the command) or a name-to-path object.
type BinField map[string]string

func (b *BinField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = BinField{"": s}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*b = BinField(m)
	return nil
}

// Commands returns the normalized command map, resolving the bare-string
// shape against the package name.
func (b BinField) Commands(pkgName string) map[string]string {
	if len(b) == 0 {
		return nil
	}
	out := make(map[string]string, len(b))
	for name, p := range b {
		if name == "" {
			name = pkgName
			if i := strings.IndexByte(name, '/'); i >= 0 && strings.HasPrefix(name, "@") {
				name = name[i+1:]
			}
		}
		out[name] = p
	}
	return out
}
