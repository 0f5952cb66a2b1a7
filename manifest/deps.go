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
	"fmt"
	"sort"
	"strings"

	"sandboxnpm.dev/semver"
)

// SpecKind classifies a dependency specifier string.
type SpecKind string

const (
	SpecExact     SpecKind = "exact"
	SpecRange     SpecKind = "range"
	SpecTag       SpecKind = "tag"
	SpecGitHub    SpecKind = "github"
	SpecGit       SpecKind = "git"
	SpecFile      SpecKind = "file"
	SpecURL       SpecKind = "url"
	SpecAlias     SpecKind = "alias"
	SpecWorkspace SpecKind = "workspace"
)

// Specifier is a classified dependency specifier.
type Specifier struct {
	Name string
	Spec string
	Kind SpecKind
	// RealName and Range are set for alias specifiers ("npm:real@^1.0.0")
	// and carry the aliased package and its range. For workspace
	// specifiers Range holds the part after "workspace:".
	RealName string
	Range    string
	// Valid is false when the specifier could not be classified; Err then
	// explains why.
	Valid bool
	Err   error
}

// ClassifySpecifier determines what kind of dependency a specifier string
// denotes, following npm's own grammar.
func ClassifySpecifier(name, spec string) Specifier {
	s := Specifier{Name: name, Spec: spec, Valid: true}
	switch {
	case strings.HasPrefix(spec, "npm:"):
		s.Kind = SpecAlias
		real, rng, err := splitAlias(spec[len("npm:"):])
		if err != nil {
			s.Valid, s.Err = false, err
			return s
		}
		s.RealName, s.Range = real, rng
		return s
	case strings.HasPrefix(spec, "workspace:"):
		s.Kind = SpecWorkspace
		s.Range = spec[len("workspace:"):]
		return s
	case strings.HasPrefix(spec, "file:"):
		s.Kind = SpecFile
		return s
	case strings.HasPrefix(spec, "git+"),
		strings.HasPrefix(spec, "git://"),
		strings.HasPrefix(spec, "git@"),
		strings.HasPrefix(spec, "ssh://"):
		s.Kind = SpecGit
		return s
	case strings.HasPrefix(spec, "github:"):
		s.Kind = SpecGitHub
		return s
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		if strings.HasSuffix(spec, ".git") {
			s.Kind = SpecGit
		} else {
			s.Kind = SpecURL
		}
		return s
	}
	// Bare owner/repo with an optional #committish is GitHub shorthand.
	if isGitHubShorthand(spec) {
		s.Kind = SpecGitHub
		return s
	}
	if v, err := semver.Parse(spec); err == nil {
		s.Kind = SpecExact
		s.Range = v.String()
		return s
	}
	if _, err := semver.ParseRange(spec); err == nil {
		s.Kind = SpecRange
		s.Range = spec
		return s
	}
	if isValidTag(spec) {
		s.Kind = SpecTag
		return s
	}
	s.Valid = false
	s.Err = fmt.Errorf("manifest: unrecognized specifier %q for %q", spec, name)
	return s
}

// ClassifyDependencies classifies every entry of a dependencies map.
func ClassifyDependencies(deps map[string]string) []Specifier {
	out := make([]Specifier, 0, len(deps))
	for _, name := range sortedKeys(deps) {
		out = append(out, ClassifySpecifier(name, deps[name]))
	}
	return out
}

// splitAlias splits "real@range" honoring a leading @scope/.
func splitAlias(s string) (name, rng string, err error) {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		// "@scope/name" alone, or "name" with no version: range is any.
		if s == "" {
			return "", "", fmt.Errorf("manifest: empty alias target")
		}
		return s, "*", nil
	}
	name, rng = s[:at], s[at+1:]
	if name == "" || rng == "" {
		return "", "", fmt.Errorf("manifest: malformed alias target %q", s)
	}
	return name, rng, nil
}

func isGitHubShorthand(spec string) bool {
	if strings.HasPrefix(spec, "@") || strings.Contains(spec, ":") {
		return false
	}
	body := spec
	if i := strings.IndexByte(body, '#'); i >= 0 {
		body = body[:i]
	}
	parts := strings.Split(body, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	for _, p := range parts {
		for i := 0; i < len(p); i++ {
			c := p[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
				c == '-', c == '_', c == '.':
			default:
				return false
			}
		}
	}
	// "1.2/3" is not a repo; require a non-numeric owner.
	if _, err := semver.Parse(parts[0]); err == nil {
		return false
	}
	c := parts[0][0]
	return c < '0' || c > '9'
}

func isValidTag(spec string) bool {
	if spec == "" {
		return false
	}
	c := spec[0]
	if c >= '0' && c <= '9' {
		return false
	}
	for i := 0; i < len(spec); i++ {
		c := spec[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}
