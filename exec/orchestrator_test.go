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

package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sandboxnpm.dev/classify"
	"sandboxnpm.dev/registry"
)

// registryPort serves canned registry documents.
type registryPort struct {
	docs map[string]string
}

func (p *registryPort) Do(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	body, ok := p.docs[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(body))}, nil
}

// fakeCDN returns a fixed bundle and records requested URLs.
type fakeCDN struct {
	source string
	urls   []string
	delay  time.Duration
}

func (c *fakeCDN) Fetch(ctx context.Context, url string) (*BundleResponse, error) {
	c.urls = append(c.urls, url)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &BundleResponse{Source: []byte(c.source), FinalURL: url}, nil
}

// fakeSandbox records what it evaluated and returns canned stdio.
type fakeSandbox struct {
	stdout  string
	evalErr error
	gotSrc  string
	gotOpts SandboxOptions
}

func (s *fakeSandbox) Eval(ctx context.Context, source string, opts SandboxOptions) (EvalResult, error) {
	s.gotSrc = source
	s.gotOpts = opts
	if s.evalErr != nil {
		return EvalResult{Stderr: ""}, s.evalErr
	}
	return EvalResult{Stdout: s.stdout}, nil
}

const cowsayDoc = `{
	"name": "cowsay",
	"dist-tags": {"latest": "1.6.0", "next": "2.0.0-beta.1"},
	"versions": {
		"1.5.0": {"name":"cowsay","version":"1.5.0","dist":{"tarball":"t"}},
		"1.6.0": {"name":"cowsay","version":"1.6.0","dist":{"tarball":"t"}},
		"2.0.0-beta.1": {"name":"cowsay","version":"2.0.0-beta.1","dist":{"tarball":"t"}}
	}
}`

const gypDoc = `{
	"name": "bcrypt",
	"dist-tags": {"latest": "5.1.0"},
	"versions": {
		"5.1.0": {"name":"bcrypt","version":"5.1.0","gypfile":true,"dist":{"tarball":"t"}}
	}
}`

const shimDoc = `{
	"name": "renamer",
	"dist-tags": {"latest": "4.0.0"},
	"versions": {
		"4.0.0": {
			"name":"renamer","version":"4.0.0",
			"dependencies": {"fs": "*", "path": "*"},
			"dist":{"tarball":"t"}
		}
	}
}`

func newTestOrchestrator(sb Sandbox) (*Orchestrator, *fakeCDN) {
	port := &registryPort{docs: map[string]string{
		"https://registry.test/cowsay":  cowsayDoc,
		"https://registry.test/bcrypt":  gypDoc,
		"https://registry.test/renamer": shimDoc,
	}}
	reg := registry.New("https://registry.test", port,
		registry.WithRetry(registry.RetryPolicy{Attempts: 2, Base: time.Millisecond}))
	cdn := &fakeCDN{source: `console.log("moo")`}
	return NewOrchestrator(reg, cdn, "https://cdn.test/", sb), cdn
}

func TestExecuteTier1(t *testing.T) {
	sb := &fakeSandbox{stdout: "moo\n"}
	o, cdn := newTestOrchestrator(sb)
	inv, _ := ParseInvocation("cowsay", []string{"hello"})

	res := o.Execute(context.Background(), inv, ExecOptions{})
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, stderr %q", res.ExitCode, res.Stderr)
	}
	if res.Tier != classify.TierPureESM || res.Version != "1.6.0" {
		t.Errorf("tier/version = %v/%s", res.Tier, res.Version)
	}
	if res.Stdout != "moo\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if diff := cmp.Diff([]string{"https://cdn.test/cowsay@1.6.0"}, cdn.urls); diff != "" {
		t.Errorf("CDN URLs: (-want +got):\n%s", diff)
	}
	wantArgv := []string{"sandboxnpm", "cowsay", "hello"}
	if diff := cmp.Diff(wantArgv, sb.gotOpts.Argv); diff != "" {
		t.Errorf("Argv: (-want +got):\n%s", diff)
	}
}

func TestExecuteExplicitVersionAndTag(t *testing.T) {
	sb := &fakeSandbox{}
	o, _ := newTestOrchestrator(sb)

	inv, _ := ParseInvocation("cowsay@1.5.0", nil)
	res := o.Execute(context.Background(), inv, ExecOptions{})
	if res.Version != "1.5.0" {
		t.Errorf("explicit version: got %s", res.Version)
	}

	inv, _ = ParseInvocation("cowsay@next", nil)
	res = o.Execute(context.Background(), inv, ExecOptions{})
	if res.Version != "2.0.0-beta.1" {
		t.Errorf("dist-tag: got %s", res.Version)
	}

	inv, _ = ParseInvocation("cowsay@^1.0.0", nil)
	res = o.Execute(context.Background(), inv, ExecOptions{})
	if res.Version != "1.6.0" {
		t.Errorf("range: got %s", res.Version)
	}
}

func TestExecuteTier2Shims(t *testing.T) {
	sb := &fakeSandbox{}
	o, _ := newTestOrchestrator(sb)
	inv, _ := ParseInvocation("renamer", nil)

	res := o.Execute(context.Background(), inv, ExecOptions{})
	if res.ExitCode != 0 || res.Tier != classify.TierShimmed {
		t.Fatalf("res = %+v", res)
	}
	if diff := cmp.Diff([]string{"fs", "path"}, sb.gotOpts.Builtins); diff != "" {
		t.Errorf("Builtins: (-want +got):\n%s", diff)
	}
}

func TestExecuteTier3Refuses(t *testing.T) {
	sb := &fakeSandbox{}
	o, cdn := newTestOrchestrator(sb)
	inv, _ := ParseInvocation("bcrypt", nil)

	res := o.Execute(context.Background(), inv, ExecOptions{})
	if res.ExitCode != 1 || res.Tier != classify.TierNative {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.Stderr, "full container") || !strings.Contains(res.Stderr, "gypfile") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if len(cdn.urls) != 0 {
		t.Errorf("tier 3 fetched a bundle: %v", cdn.urls)
	}
	if sb.gotSrc != "" {
		t.Error("tier 3 evaluated code")
	}
}

func TestExecuteForcedTier(t *testing.T) {
	sb := &fakeSandbox{}
	o, _ := newTestOrchestrator(sb)
	inv, _ := ParseInvocation("renamer", nil)

	res := o.Execute(context.Background(), inv, ExecOptions{ForceTier: classify.TierNative})
	if res.ExitCode != 1 || res.Tier != classify.TierNative {
		t.Fatalf("forced tier ignored: %+v", res)
	}
}

func TestExecuteUncaughtException(t *testing.T) {
	sb := &fakeSandbox{evalErr: errors.New("ReferenceError: x is not defined")}
	o, _ := newTestOrchestrator(sb)
	inv, _ := ParseInvocation("cowsay", nil)

	res := o.Execute(context.Background(), inv, ExecOptions{})
	if res.ExitCode != 1 {
		t.Fatalf("ExitCode = %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "ReferenceError") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestExecuteNotFound(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeSandbox{})
	inv, _ := ParseInvocation("no-such-pkg", nil)

	res := o.Execute(context.Background(), inv, ExecOptions{})
	if res.ExitCode != 1 || !strings.Contains(res.Stderr, "not found") {
		t.Errorf("res = %+v", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	sb := &fakeSandbox{}
	o, cdn := newTestOrchestrator(sb)
	cdn.delay = time.Second
	inv, _ := ParseInvocation("cowsay", nil)

	res := o.Execute(context.Background(), inv, ExecOptions{Timeout: 10 * time.Millisecond})
	if !res.TimedOut || res.ExitCode != 1 {
		t.Fatalf("res = %+v", res)
	}
}

func TestBundleURL(t *testing.T) {
	o, _ := newTestOrchestrator(nil)
	tests := []struct {
		name, version string
		opts          ExecOptions
		want          string
	}{
		{"cowsay", "1.6.0", ExecOptions{}, "https://cdn.test/cowsay@1.6.0"},
		{"lodash", "4.17.21", ExecOptions{Subpath: "/fp"}, "https://cdn.test/lodash@4.17.21/fp"},
		{"react", "18.2.0", ExecOptions{Target: "es2022", Dev: true}, "https://cdn.test/react@18.2.0?target=es2022&dev"},
		{"@scope/pkg", "1.0.0", ExecOptions{}, "https://cdn.test/@scope/pkg@1.0.0"},
	}
	for _, test := range tests {
		if got := o.BundleURL(test.name, test.version, test.opts); got != test.want {
			t.Errorf("BundleURL(%s@%s) = %q; want %q", test.name, test.version, got, test.want)
		}
	}
}

func TestCanonicalVersion(t *testing.T) {
	tests := []struct {
		resp *BundleResponse
		want string
		ok   bool
	}{
		{&BundleResponse{XEsmID: "cowsay@1.6.0"}, "1.6.0", true},
		{&BundleResponse{FinalURL: "https://cdn.test/cowsay@1.6.0/es2022/cowsay.mjs"}, "1.6.0", true},
		{&BundleResponse{ContentLocation: "/cowsay@2.0.0-beta.1"}, "2.0.0-beta.1", true},
		{&BundleResponse{XEsmID: "junk", FinalURL: "https://cdn.test/x@1.2.3"}, "1.2.3", true},
		{&BundleResponse{}, "", false},
	}
	for _, test := range tests {
		got, ok := CanonicalVersion(test.resp)
		if got != test.want || ok != test.ok {
			t.Errorf("CanonicalVersion(%+v) = %q, %t; want %q, %t", test.resp, got, ok, test.want, test.ok)
		}
	}
}
