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
sandboxnpm resolves and runs npm packages inside a sandboxed worker
runtime.

	sandboxnpm install [-dev] [-optional] [-strict] [package.json]
	sandboxnpm exec [-timeout d] [-registry url] [-cdn url] <command> [args...]
	sandboxnpm info <package>

install reads a manifest, resolves its dependency graph against the
registry and writes the lockfile to stdout. exec resolves a package,
classifies it and reports (or runs, when a sandbox is attached) the
result. info prints a package's dist-tags and latest version metadata.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"sandboxnpm.dev/exec"
	"sandboxnpm.dev/manifest"
	"sandboxnpm.dev/registry"
	"sandboxnpm.dev/resolve"
)

const (
	defaultRegistry = "https://registry.npmjs.org"
	defaultCDN      = "https://esm.sh"
)

const usage = `Usage:
  sandboxnpm install [flags] [package.json]
  sandboxnpm exec [flags] <command> [args...]
  sandboxnpm info <package>`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatal(usage)
	}
	switch os.Args[1] {
	case "install":
		runInstall(os.Args[2:])
	case "exec":
		runExec(os.Args[2:])
	case "info":
		runInfo(os.Args[2:])
	default:
		log.Fatal(usage)
	}
}

func newFacade(root string) *registry.Facade {
	return registry.New(root, http.DefaultClient,
		registry.WithLimiter(rate.NewLimiter(rate.Limit(20), 40)),
		registry.WithLogger(log.New(os.Stderr, "registry: ", log.LstdFlags)),
	)
}

func runInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	var (
		regRoot  = fs.String("registry", defaultRegistry, "registry root URL")
		dev      = fs.Bool("dev", false, "resolve devDependencies of the root")
		optional = fs.Bool("optional", true, "resolve optionalDependencies")
		strict   = fs.Bool("strict", false, "fail on unsatisfied peer dependencies")
		timeout  = fs.Duration("timeout", 2*time.Minute, "overall resolution deadline")
	)
	fs.Parse(args)

	path := "package.json"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		log.Fatal(err)
	}
	for _, w := range m.Warnings {
		log.Printf("warning: %s", w)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &resolve.RegistryClient{Facade: newFacade(*regRoot)}
	r := resolve.NewResolver(client, resolve.Options{
		IncludeDev:      *dev,
		IncludeOptional: *optional,
		Strict:          *strict,
	})
	r.SetLogger(log.New(os.Stderr, "", 0))

	start := time.Now()
	g, err := r.Resolve(ctx, m)
	if err != nil {
		log.Fatal(err)
	}
	lf, err := g.Lockfile()
	if err != nil {
		log.Fatal(err)
	}
	b, err := lf.Serialize()
	if err != nil {
		log.Fatal(err)
	}
	os.Stdout.Write(b)
	log.Printf("resolved %d packages in %v", len(g.Nodes)-1, time.Since(start).Round(time.Millisecond))
}

// httpCDN adapts net/http to the orchestrator's CDN port.
type httpCDN struct {
	client *http.Client
}

func (c *httpCDN) Fetch(ctx context.Context, url string) (*exec.BundleResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cdn returned %d for %s", resp.StatusCode, url)
	}
	src, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &exec.BundleResponse{
		Source:          src,
		XEsmID:          resp.Header.Get("x-esm-id"),
		FinalURL:        resp.Request.URL.String(),
		ContentLocation: resp.Header.Get("content-location"),
	}, nil
}

func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	var (
		regRoot = fs.String("registry", defaultRegistry, "registry root URL")
		cdnRoot = fs.String("cdn", defaultCDN, "bundle CDN root URL")
		timeout = fs.Duration("timeout", 30*time.Second, "execution deadline")
	)
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("exec: missing command")
	}

	inv, err := exec.ParseInvocation(fs.Arg(0), fs.Args()[1:])
	if err != nil {
		log.Fatal(err)
	}

	// The embedded JavaScript engine is provided by the worker host; a
	// bare CLI build runs the pipeline up to classification.
	o := exec.NewOrchestrator(newFacade(*regRoot), &httpCDN{client: http.DefaultClient}, *cdnRoot, nil)
	o.SetLogger(log.New(os.Stderr, "", 0))

	res := o.Execute(context.Background(), inv, exec.ExecOptions{Timeout: *timeout})
	if res.Stdout != "" {
		fmt.Print(res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
	if res.Classification != nil {
		log.Printf("%s@%s classified as %v", res.Package, res.Version, res.Tier)
	}
	os.Exit(res.ExitCode)
}

func runInfo(args []string) {
	if len(args) != 1 {
		log.Fatal("info: expected exactly one package name")
	}
	name := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	f := newFacade(defaultRegistry)
	doc, err := f.GetPackageMetadata(ctx, name)
	if err != nil {
		log.Fatal(err)
	}
	if doc == nil {
		log.Fatalf("package %s not found", name)
	}
	fmt.Printf("%s\n", doc.Name)
	for tag, v := range doc.DistTags {
		fmt.Printf("  %s: %s\n", tag, v)
	}
	if latest, ok := doc.DistTags["latest"]; ok {
		if vm, ok := doc.Versions[latest]; ok {
			fmt.Printf("  tarball: %s\n", vm.Dist.Tarball)
		}
	}
}
