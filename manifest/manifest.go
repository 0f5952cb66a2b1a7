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
Package manifest parses and normalizes npm package manifests
(package.json): bin entries, the exports map, dependency specifiers and
scripts.
*/
package manifest

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Manifest is a normalized package manifest. Warnings collects
// non-fatal normalization findings.
type Manifest struct {
	Name    string
	Version string
	Main    string
	Module  string
	Bin     map[string]string
	Exports Exports
	Engines map[string]string
	Files   []string
	Scripts Scripts

	Dependencies         map[string]string
	DevDependencies      map[string]string
	PeerDependencies     map[string]string
	OptionalDependencies map[string]string

	Gypfile  bool
	Warnings []string
}

// rawManifest matches the JSON document before normalization. Fields whose
// shape varies between packages stay raw.
type rawManifest struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Main    string            `json:"main"`
	Module  string            `json:"module"`
	Bin     json.RawMessage   `json:"bin"`
	Exports json.RawMessage   `json:"exports"`
	Engines map[string]string `json:"engines"`
	Files   []string          `json:"files"`
	Scripts map[string]string `json:"scripts"`

	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`

	Gypfile bool `json:"gypfile"`
}

// Parse decodes and normalizes a package.json document.
func Parse(data []byte) (Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode: %w", err)
	}
	m := Manifest{
		Name:                 raw.Name,
		Version:              raw.Version,
		Main:                 raw.Main,
		Module:               raw.Module,
		Engines:              raw.Engines,
		Files:                raw.Files,
		Dependencies:         raw.Dependencies,
		DevDependencies:      raw.DevDependencies,
		PeerDependencies:     raw.PeerDependencies,
		OptionalDependencies: raw.OptionalDependencies,
		Gypfile:              raw.Gypfile,
	}
	if err := m.normalizeBin(raw.Bin); err != nil {
		return Manifest{}, err
	}
	if len(raw.Exports) > 0 {
		ex, err := parseExports(raw.Exports)
		if err != nil {
			return Manifest{}, err
		}
		m.Exports = ex
	}
	m.Scripts = parseScripts(raw.Scripts)
	return m, nil
}

// normalizeBin turns the two accepted shapes of "bin" into a map of command
// name to forward-slash path, "./"-prefixed unless it starts with "/" or
// "./" already. A bare string maps the
// package's unscoped name to that path.
func (m *Manifest) normalizeBin(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var binPath string
	if err := json.Unmarshal(raw, &binPath); err == nil {
		m.Bin = map[string]string{unscopedName(m.Name): normalizeBinPath(binPath)}
		m.checkBinInFiles()
		return nil
	}
	var binMap map[string]string
	if err := json.Unmarshal(raw, &binMap); err != nil {
		return fmt.Errorf("manifest: bin must be a string or an object of strings")
	}
	m.Bin = make(map[string]string, len(binMap))
	for name, p := range binMap {
		if strings.ContainsAny(name, " \t\n\r") {
			return fmt.Errorf("manifest: bin name %q contains whitespace", name)
		}
		m.Bin[name] = normalizeBinPath(p)
	}
	m.checkBinInFiles()
	return nil
}

// unscopedName strips a leading @scope/ from a package name.
func unscopedName(name string) string {
	if strings.HasPrefix(name, "@") {
		if i := strings.IndexByte(name, '/'); i >= 0 {
			return name[i+1:]
		}
	}
	return name
}

func normalizeBinPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "./") && !strings.HasPrefix(p, "/") {
		p = "./" + p
	}
	return p
}

// checkBinInFiles warns about bin paths that the declared files globs would
// not pack. Packages without a files list pack everything.
func (m *Manifest) checkBinInFiles() {
	if len(m.Files) == 0 {
		return
	}
	for name, p := range m.Bin {
		rel := strings.TrimPrefix(p, "./")
		if !coveredByFiles(rel, m.Files) {
			m.Warnings = append(m.Warnings,
				fmt.Sprintf("bin %q points at %s, which is outside the declared files globs", name, p))
		}
	}
}

func coveredByFiles(rel string, files []string) bool {
	for _, pattern := range files {
		pattern = strings.TrimPrefix(strings.TrimSuffix(pattern, "/"), "./")
		if pattern == rel {
			return true
		}
		// A bare directory entry covers everything beneath it.
		if strings.HasPrefix(rel, pattern+"/") {
			return true
		}
		if ok, err := path.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
