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
Package classify decides the lightest execution tier a resolved package
can run in: pure ES modules, ES modules plus host-side built-in shims, or
a full Node container only.
*/
package classify

import (
	"fmt"
	"sort"
	"strings"

	"sandboxnpm.dev/manifest"
)

// Tier is an execution capability class.
type Tier int

const (
	// TierPureESM runs in a bare JavaScript sandbox.
	TierPureESM Tier = 1
	// TierShimmed runs in the sandbox with host-provided shims for the
	// standard built-ins it uses.
	TierShimmed Tier = 2
	// TierNative cannot run in the sandbox at all.
	TierNative Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierPureESM:
		return "tier 1 (pure ESM)"
	case TierShimmed:
		return "tier 2 (shimmed)"
	case TierNative:
		return "tier 3 (native)"
	default:
		return fmt.Sprintf("tier %d", int(t))
	}
}

// Classification is the classifier's verdict for one package.
type Classification struct {
	Tier             Tier
	RequiredBuiltins []string
	Reason           string
}

// unshimmableBuiltins cannot be provided by the sandbox host. The set is
// conservative; revisit as the sandbox gains capabilities.
var unshimmableBuiltins = map[string]bool{
	"child_process": true,
	"cluster":       true,
	"worker_threads": true,
	"v8":            true,
	"vm":            true,
	"repl":          true,
	"net":           true,
	"dgram":         true,
	"tls":           true,
	"http2":         true,
	"async_hooks":   true,
	"inspector":     true,
}

// shimmableBuiltins have host-side implementations backed by virtual
// resources.
var shimmableBuiltins = map[string]bool{
	"fs":      true,
	"path":    true,
	"process": true,
	"buffer":  true,
	"crypto":  true,
	"events":  true,
	"stream":  true,
	"url":     true,
	"util":    true,
}

// spawningScripts are script binaries whose presence means the package
// must compile or spawn during install.
var spawningScripts = []string{"node-gyp", "prebuild", "cc ", "gcc ", "make "}

// Classify tags a package manifest with its execution tier. Rules are
// evaluated in order and the first match wins.
func Classify(m manifest.Manifest) Classification {
	if reason, ok := nativeSignal(m); ok {
		return Classification{Tier: TierNative, Reason: reason}
	}

	names := dependencyNames(m)
	for _, name := range names {
		if unshimmableBuiltins[builtinName(name)] {
			return Classification{
				Tier:   TierNative,
				Reason: fmt.Sprintf("depends on unshimmable built-in %q", name),
			}
		}
	}

	var required []string
	for _, name := range names {
		if b := builtinName(name); shimmableBuiltins[b] {
			required = append(required, b)
		}
	}
	if len(required) > 0 {
		sort.Strings(required)
		return Classification{
			Tier:             TierShimmed,
			RequiredBuiltins: required,
			Reason:           "requires host shims: " + strings.Join(required, ", "),
		}
	}

	return Classification{Tier: TierPureESM, RequiredBuiltins: []string{}}
}

// nativeSignal checks rule 1: native addons and spawning install scripts.
func nativeSignal(m manifest.Manifest) (string, bool) {
	if m.Gypfile {
		return "declares gypfile (native addon build)", true
	}
	for name, cmd := range scriptCommands(m) {
		if name != "install" && name != "preinstall" && name != "postinstall" {
			continue
		}
		for _, bin := range spawningScripts {
			if strings.Contains(cmd, bin) {
				return fmt.Sprintf("script %q runs %s", name, strings.TrimSpace(bin)), true
			}
		}
	}
	if node, ok := m.Engines["node"]; ok && strings.Contains(node, "napi") {
		return fmt.Sprintf("engines.node %q requires native API", node), true
	}
	return "", false
}

func scriptCommands(m manifest.Manifest) map[string]string {
	out := make(map[string]string)
	for _, name := range m.Scripts.Names() {
		if sc, ok := m.Scripts.Get(name); ok {
			out[name] = sc.Command
		}
	}
	return out
}

// dependencyNames returns the package's direct dependency names, sorted.
func dependencyNames(m manifest.Manifest) []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinName maps a specifier to the built-in module it names, honoring
// the "node:" prefix.
func builtinName(name string) string {
	return strings.TrimPrefix(name, "node:")
}
