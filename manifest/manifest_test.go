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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseBinString(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "@myorg/tool",
		"version": "1.0.0",
		"bin": "lib\\cli.js"
	}`))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"tool": "./lib/cli.js"}
	if diff := cmp.Diff(want, m.Bin); diff != "" {
		t.Errorf("Bin: (-want +got):\n%s", diff)
	}
}

func TestParseBinMap(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "tool",
		"bin": {"tsc": "bin/tsc", "tsserver": "./bin/tsserver"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"tsc": "./bin/tsc", "tsserver": "./bin/tsserver"}
	if diff := cmp.Diff(want, m.Bin); diff != "" {
		t.Errorf("Bin: (-want +got):\n%s", diff)
	}

	if _, err := Parse([]byte(`{"name":"x","bin":{"bad name":"a"}}`)); err == nil {
		t.Error("bin name with whitespace accepted")
	}
}

func TestBinOutsideFilesWarns(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "tool",
		"files": ["lib", "README.md"],
		"bin": {"ok": "lib/cli.js", "stray": "scripts/run.js"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Warnings) != 1 || !strings.Contains(m.Warnings[0], "stray") {
		t.Errorf("Warnings = %v; want one mentioning stray", m.Warnings)
	}
}

func TestExportsResolve(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "pkg",
		"exports": {
			".": {
				"import": "./dist/index.mjs",
				"require": "./dist/index.cjs",
				"default": "./dist/index.js"
			},
			"./package.json": "./package.json",
			"./internal/*": null,
			"./features/*": "./dist/features/*.js",
			"./features/legacy": "./dist/legacy.js"
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		subpath    string
		conditions []string
		want       string
		ok         bool
	}{
		{".", []string{"import"}, "./dist/index.mjs", true},
		{".", []string{"require"}, "./dist/index.cjs", true},
		{".", []string{"browser"}, "./dist/index.js", true}, // default fallback
		{"", []string{"import"}, "./dist/index.mjs", true},
		{"./package.json", nil, "./package.json", true},
		{"./features/x", nil, "./dist/features/x.js", true},
		{"./features/a/b", nil, "./dist/features/a/b.js", true},
		{"./features/legacy", nil, "./dist/legacy.js", true}, // exact beats pattern
		{"./internal/secret", nil, "", false},                // blocked
		{"./unexported", nil, "", false},
	}
	for _, test := range tests {
		got, ok := m.Exports.Resolve(test.subpath, test.conditions)
		if ok != test.ok || got != test.want {
			t.Errorf("Resolve(%q, %v) = %q, %t; want %q, %t",
				test.subpath, test.conditions, got, ok, test.want, test.ok)
		}
	}
}

func TestExportsConditionOrder(t *testing.T) {
	// The caller's condition order decides, not the document order.
	m, err := Parse([]byte(`{
		"name": "pkg",
		"exports": {
			"worker": "./worker.js",
			"node": "./node.js",
			"default": "./plain.js"
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Exports.Resolve(".", []string{"node", "worker"}); got != "./node.js" {
		t.Errorf("Resolve(node,worker) = %q; want ./node.js", got)
	}
	if got, _ := m.Exports.Resolve(".", []string{"worker", "node"}); got != "./worker.js" {
		t.Errorf("Resolve(worker,node) = %q; want ./worker.js", got)
	}
	if got, _ := m.Exports.Resolve(".", nil); got != "./plain.js" {
		t.Errorf("Resolve() = %q; want ./plain.js", got)
	}
}

func TestExportsStringRoot(t *testing.T) {
	m, err := Parse([]byte(`{"name":"pkg","exports":"./index.js"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := m.Exports.Resolve(".", nil); !ok || got != "./index.js" {
		t.Errorf("Resolve(.) = %q, %t", got, ok)
	}
	if _, ok := m.Exports.Resolve("./sub", nil); ok {
		t.Error("string root resolved a subpath")
	}
}

func TestClassifySpecifier(t *testing.T) {
	tests := []struct {
		spec string
		want SpecKind
	}{
		{"1.2.3", SpecExact},
		{"v1.2.3", SpecExact},
		{"^1.2.3", SpecRange},
		{"~0.4.0", SpecRange},
		{">=1.0.0 <2.0.0", SpecRange},
		{"1.x", SpecRange},
		{"*", SpecRange},
		{"", SpecRange},
		{"latest", SpecTag},
		{"beta", SpecTag},
		{"isaacs/sax-js", SpecGitHub},
		{"github:isaacs/sax-js#v1.2.3", SpecGitHub},
		{"git+ssh://git@github.com/a/b.git", SpecGit},
		{"git://github.com/a/b.git", SpecGit},
		{"git@github.com:a/b.git", SpecGit},
		{"https://github.com/a/b.git", SpecGit},
		{"https://example.com/pkg-1.0.0.tgz", SpecURL},
		{"file:../local-pkg", SpecFile},
		{"npm:left-pad@^1.3.0", SpecAlias},
		{"workspace:^1.0.0", SpecWorkspace},
	}
	for _, test := range tests {
		got := ClassifySpecifier("dep", test.spec)
		if !got.Valid {
			t.Errorf("ClassifySpecifier(%q) invalid: %v", test.spec, got.Err)
			continue
		}
		if got.Kind != test.want {
			t.Errorf("ClassifySpecifier(%q).Kind = %s; want %s", test.spec, got.Kind, test.want)
		}
	}
}

func TestClassifyAlias(t *testing.T) {
	s := ClassifySpecifier("my-pad", "npm:@scope/left-pad@^1.3.0")
	if !s.Valid || s.Kind != SpecAlias {
		t.Fatalf("alias: %+v", s)
	}
	if s.RealName != "@scope/left-pad" || s.Range != "^1.3.0" {
		t.Errorf("alias split = %q @ %q", s.RealName, s.Range)
	}

	s = ClassifySpecifier("my-pad", "npm:left-pad")
	if s.RealName != "left-pad" || s.Range != "*" {
		t.Errorf("bare alias split = %q @ %q", s.RealName, s.Range)
	}
}

func TestScripts(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "pkg",
		"scripts": {
			"pretest": "npm run lint",
			"test": "NODE_ENV=test node test.js",
			"posttest": "echo done",
			"lint": "eslint .",
			"prepare": "npm run build",
			"build": "tsc"
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	groups := m.Scripts.Groups()
	byName := make(map[string]ScriptGroup)
	for _, g := range groups {
		byName[g.Name] = g
	}

	tg, ok := byName["test"]
	if !ok || tg.Pre == nil || tg.Main == nil || tg.Post == nil {
		t.Fatalf("test group incomplete: %+v", tg)
	}
	if diff := cmp.Diff([]string{"lint"}, tg.Pre.RunRefs); diff != "" {
		t.Errorf("pretest RunRefs: (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"NODE_ENV": "test"}, tg.Main.Env); diff != "" {
		t.Errorf("test Env: (-want +got):\n%s", diff)
	}

	prep, ok := byName["prepare"]
	if !ok || prep.Main == nil {
		t.Fatal("prepare group missing")
	}
	if !prep.Main.Lifecycle {
		t.Error("prepare not flagged as lifecycle")
	}
	if lint := byName["lint"]; lint.Main == nil || lint.Main.Lifecycle {
		t.Error("lint misclassified")
	}
	if diff := cmp.Diff([]string{"build"}, prep.Main.RunRefs); diff != "" {
		t.Errorf("prepare RunRefs: (-want +got):\n%s", diff)
	}
}
