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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"sandboxnpm.dev/classify"
	"sandboxnpm.dev/errs"
	"sandboxnpm.dev/manifest"
	"sandboxnpm.dev/registry"
	"sandboxnpm.dev/semver"
)

// BundleResponse is what the CDN port returns for a bundle fetch: the
// module source plus the headers that identify the canonical version.
type BundleResponse struct {
	Source          []byte
	XEsmID          string
	FinalURL        string
	ContentLocation string
}

// CDNPort abstracts the bundle CDN. Implementations apply their own
// retry policy; cancellation propagates through ctx.
type CDNPort interface {
	Fetch(ctx context.Context, url string) (*BundleResponse, error)
}

// SandboxOptions configures one evaluation.
type SandboxOptions struct {
	// Builtins names the host shims to attach ("fs", "path", ...).
	Builtins []string
	// Argv is the process.argv the shimmed process object exposes.
	Argv []string
	Env  map[string]string
}

// EvalResult carries the sandbox's captured console sinks.
type EvalResult struct {
	Stdout string
	Stderr string
}

// Sandbox abstracts the JavaScript engine. Eval returns the captured
// stdio; an uncaught exception is returned as an error.
type Sandbox interface {
	Eval(ctx context.Context, source string, opts SandboxOptions) (EvalResult, error)
}

// Result is the outcome of an Execute call. Execute never fails through
// its error path; failures materialize as ExitCode 1 with Stderr set.
type Result struct {
	ExitCode       int
	Stdout         string
	Stderr         string
	Duration       time.Duration
	TimedOut       bool
	Tier           classify.Tier
	Package        string
	Version        string
	Classification *classify.Classification
}

// ExecOptions tunes one execution.
type ExecOptions struct {
	// Timeout bounds the whole pipeline; zero means no deadline beyond
	// the caller's context.
	Timeout time.Duration
	// ForceTier overrides the classifier when nonzero.
	ForceTier classify.Tier
	// Subpath is an optional module subpath inside the package.
	Subpath string
	// Target selects the CDN build target (e.g. "es2022").
	Target string
	// Dev requests the CDN's development build.
	Dev bool
	Env map[string]string
}

// Orchestrator drives the execute pipeline:
// parse -> resolve -> classify -> fetch bundle -> evaluate.
type Orchestrator struct {
	registry *registry.Facade
	cdn      CDNPort
	cdnRoot  string
	sandbox  Sandbox
	// runtimeName is argv[0] inside the sandboxed process shim.
	runtimeName string
	log         *log.Logger
}

// NewOrchestrator wires the orchestrator's collaborators. The sandbox may
// be nil, in which case tier 1/2 executions fail with an explanatory
// result instead of evaluating.
func NewOrchestrator(reg *registry.Facade, cdn CDNPort, cdnRoot string, sandbox Sandbox) *Orchestrator {
	return &Orchestrator{
		registry:    reg,
		cdn:         cdn,
		cdnRoot:     strings.TrimSuffix(cdnRoot, "/"),
		sandbox:     sandbox,
		runtimeName: "sandboxnpm",
		log:         log.New(io.Discard, "", 0),
	}
}

// SetLogger directs orchestration warnings to l.
func (o *Orchestrator) SetLogger(l *log.Logger) { o.log = l }

// Execute runs an invocation to completion.
func (o *Orchestrator) Execute(ctx context.Context, inv Invocation, opts ExecOptions) Result {
	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	res := o.execute(ctx, inv, opts)
	res.Duration = time.Since(start)
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = 1
	}
	return res
}

func (o *Orchestrator) execute(ctx context.Context, inv Invocation, opts ExecOptions) Result {
	spec := inv.PackageSpec
	name, want := SplitSpec(spec)
	res := Result{Package: name}

	doc, err := o.registry.GetPackageMetadata(ctx, name)
	if err != nil {
		return fail(res, err)
	}
	if doc == nil {
		return fail(res, errs.Newf(errs.ENOTFOUND, "package %s not found", name).
			With("package", name))
	}

	version, err := o.selectVersion(doc, want)
	if err != nil {
		return fail(res, err)
	}
	res.Version = version

	vm, ok := doc.Versions[version]
	if !ok {
		return fail(res, errs.Newf(errs.ENOTFOUND, "version %s of %s is not published", version, name).
			With("package", name).With("version", version))
	}

	m := manifestOf(vm)
	cls := classify.Classify(m)
	if opts.ForceTier != 0 {
		cls.Tier = opts.ForceTier
		if cls.Reason != "" {
			cls.Reason += " (tier forced by caller)"
		}
	}
	res.Tier = cls.Tier
	res.Classification = &cls

	if cls.Tier == classify.TierNative {
		res.ExitCode = 1
		res.Stderr = fmt.Sprintf("%s@%s requires a full container: %s\n", name, version, cls.Reason)
		return res
	}

	if o.sandbox == nil {
		o.log.Printf("exec: no sandbox attached, cannot run %s@%s", name, version)
		res.ExitCode = 1
		res.Stderr = "no sandbox attached to this runtime\n"
		return res
	}

	bundleURL := o.BundleURL(name, version, opts)
	resp, err := o.cdn.Fetch(ctx, bundleURL)
	if err != nil {
		return fail(res, err)
	}

	sboxOpts := SandboxOptions{
		Argv: append([]string{o.runtimeName, name}, inv.Args...),
		Env:  opts.Env,
	}
	if cls.Tier == classify.TierShimmed {
		sboxOpts.Builtins = cls.RequiredBuiltins
	}
	eval, err := o.sandbox.Eval(ctx, string(resp.Source), sboxOpts)
	res.Stdout = eval.Stdout
	res.Stderr = eval.Stderr
	if err != nil {
		res.ExitCode = 1
		if res.Stderr != "" && !strings.HasSuffix(res.Stderr, "\n") {
			res.Stderr += "\n"
		}
		res.Stderr += err.Error() + "\n"
		return res
	}
	return res
}

// fail converts an error into a terminal Result.
func fail(res Result, err error) Result {
	res.ExitCode = 1
	res.Stderr = errs.Wrap(err, errs.EEXEC).Error() + "\n"
	return res
}

// selectVersion picks the concrete version to run: an explicit exact
// version verbatim, a range via max-satisfying, a tag via dist-tags, and
// otherwise dist-tags.latest.
func (o *Orchestrator) selectVersion(doc *registry.PackageMetadata, want string) (string, error) {
	if want == "" {
		want = "latest"
	}
	if v, err := semver.Parse(want); err == nil {
		return v.String(), nil
	}
	if rng, err := semver.ParseRange(want); err == nil {
		versions := make([]semver.Version, 0, len(doc.Versions))
		for s := range doc.Versions {
			if v, err := semver.Parse(s); err == nil {
				versions = append(versions, v)
			}
		}
		sort.Slice(versions, func(i, j int) bool { return semver.Compare(versions[i], versions[j]) < 0 })
		v, ok := semver.MaxSatisfying(versions, rng, semver.Options{})
		if !ok {
			return "", errs.Newf(errs.ERESOLUTION, "no version of %s satisfies %q", doc.Name, want).
				With("package", doc.Name).With("version", want)
		}
		return v.String(), nil
	}
	if v, ok := doc.DistTags[want]; ok {
		return v, nil
	}
	return "", errs.Newf(errs.ENOTFOUND, "no dist-tag %q for %s", want, doc.Name).
		With("package", doc.Name).With("version", want)
}

// BundleURL composes the CDN bundle URL for a pinned version.
func (o *Orchestrator) BundleURL(name, version string, opts ExecOptions) string {
	var sb strings.Builder
	sb.WriteString(o.cdnRoot)
	sb.WriteByte('/')
	sb.WriteString(name)
	if version != "" {
		sb.WriteByte('@')
		sb.WriteString(version)
	}
	if opts.Subpath != "" {
		if !strings.HasPrefix(opts.Subpath, "/") {
			sb.WriteByte('/')
		}
		sb.WriteString(opts.Subpath)
	}
	var params []string
	if opts.Target != "" {
		params = append(params, "target="+opts.Target)
	}
	if opts.Dev {
		params = append(params, "dev")
	}
	if len(params) > 0 {
		sb.WriteByte('?')
		sb.WriteString(strings.Join(params, "&"))
	}
	return sb.String()
}

// esmIDPattern matches the "@<semver>" fragment CDN responses use to name
// the canonical version.
var esmIDPattern = regexp.MustCompile(`@(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?)`)

// CanonicalVersion extracts the version a CDN response was actually
// served for, reading the x-esm-id header, the final redirect URL and the
// content-location header in that order. Callers fall back to the
// registry's dist-tags.latest when no source matches.
func CanonicalVersion(resp *BundleResponse) (string, bool) {
	for _, src := range []string{resp.XEsmID, resp.FinalURL, resp.ContentLocation} {
		if src == "" {
			continue
		}
		if m := esmIDPattern.FindStringSubmatch(src); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// manifestOf projects registry version metadata onto the manifest shape
// the classifier consumes.
func manifestOf(vm registry.VersionMetadata) manifest.Manifest {
	doc := map[string]any{
		"name":    vm.Name,
		"version": vm.Version,
	}
	if vm.Dependencies != nil {
		doc["dependencies"] = vm.Dependencies
	}
	if vm.Engines != nil {
		doc["engines"] = vm.Engines
	}
	if vm.Scripts != nil {
		doc["scripts"] = vm.Scripts
	}
	if vm.Gypfile {
		doc["gypfile"] = true
	}
	// Round-tripping through Parse keeps a single normalization path.
	b, err := json.Marshal(doc)
	if err != nil {
		return manifest.Manifest{Name: vm.Name, Version: vm.Version}
	}
	m, err := manifest.Parse(b)
	if err != nil {
		return manifest.Manifest{Name: vm.Name, Version: vm.Version}
	}
	return m
}
