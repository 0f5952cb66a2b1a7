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

package resolve

import (
	"context"
	"errors"
	"sort"

	"sandboxnpm.dev/registry"
	"sandboxnpm.dev/resolve/dep"
	"sandboxnpm.dev/semver"
)

// Client defines an interface to fetch the data needed for dependency
// resolutions.
type Client interface {
	// Versions returns all the known concrete versions of a package, in
	// ascending precedence order.
	Versions(context.Context, PackageKey) ([]semver.Version, error)
	// Requirements returns the direct dependencies of the provided
	// version, sorted by name.
	Requirements(context.Context, VersionKey) ([]RequirementVersion, error)
	// Dist returns the tarball location and integrity of the provided
	// version.
	Dist(context.Context, VersionKey) (Dist, error)
}

// ErrNotFound is returned by Clients to indicate the requested data could
// not be located.
var ErrNotFound = errors.New("not found")

// LocalClient is a Client preloaded with fixture data. It is the resolver
// test double and also backs offline resolutions.
type LocalClient struct {
	// PackageVersions holds all the concrete versions of every package.
	PackageVersions map[PackageKey][]semver.Version
	imports         map[VersionKey][]RequirementVersion
	dists           map[VersionKey]Dist
}

// NewLocalClient creates a new, empty, LocalClient.
func NewLocalClient() *LocalClient {
	return &LocalClient{
		PackageVersions: make(map[PackageKey][]semver.Version),
		imports:         make(map[VersionKey][]RequirementVersion),
		dists:           make(map[VersionKey]Dist),
	}
}

// AddVersion adds a version to the client along with its direct
// dependencies. Any existing version will be replaced. Also ensures all
// packages in the dependencies have an entry in the PackageVersions map,
// although it may be empty.
func (lc *LocalClient) AddVersion(vk VersionKey, deps []RequirementVersion) {
	v, err := semver.Parse(vk.Version)
	if err != nil {
		return
	}
	versions := lc.PackageVersions[vk.PackageKey]
	existed := false
	for _, w := range versions {
		if semver.Compare(w, v) == 0 {
			existed = true
		}
	}
	if !existed {
		versions = append(versions, v)
		sort.Slice(versions, func(i, j int) bool {
			return semver.Compare(versions[i], versions[j]) < 0
		})
	}
	lc.PackageVersions[vk.PackageKey] = versions

	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	lc.imports[vk] = deps

	// Ensure dependency packages exist, even though we might not have
	// versions for them.
	for _, d := range deps {
		if _, ok := lc.PackageVersions[d.PackageKey]; !ok {
			lc.PackageVersions[d.PackageKey] = []semver.Version{}
		}
	}
}

// AddDist attaches tarball metadata to a version.
func (lc *LocalClient) AddDist(vk VersionKey, d Dist) {
	lc.dists[vk] = d
}

// Versions implements Client.
func (lc *LocalClient) Versions(ctx context.Context, pk PackageKey) ([]semver.Version, error) {
	vs, ok := lc.PackageVersions[pk]
	if !ok {
		return nil, ErrNotFound
	}
	return vs, nil
}

// Requirements implements Client.
func (lc *LocalClient) Requirements(ctx context.Context, vk VersionKey) ([]RequirementVersion, error) {
	deps, ok := lc.imports[vk]
	if !ok {
		return nil, ErrNotFound
	}
	return deps, nil
}

// Dist implements Client. Versions without explicit dist metadata get a
// deterministic placeholder URL, which keeps fixture lockfiles stable.
func (lc *LocalClient) Dist(ctx context.Context, vk VersionKey) (Dist, error) {
	if d, ok := lc.dists[vk]; ok {
		return d, nil
	}
	return Dist{Resolved: "https://registry.example.test/" + vk.Name + "/-/" + vk.Name + "-" + vk.Version + ".tgz"}, nil
}

// RegistryClient adapts a registry façade to the Client interface.
type RegistryClient struct {
	Facade *registry.Facade
}

// Versions implements Client, parsing every version string of the package
// document and skipping ones that are not valid semver.
func (rc *RegistryClient) Versions(ctx context.Context, pk PackageKey) ([]semver.Version, error) {
	doc, err := rc.Facade.GetPackageMetadata(ctx, pk.Name)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	vs := make([]semver.Version, 0, len(doc.Versions))
	for s := range doc.Versions {
		v, err := semver.Parse(s)
		if err != nil {
			continue
		}
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return semver.Compare(vs[i], vs[j]) < 0 })
	return vs, nil
}

// Requirements implements Client, mapping the version document's
// dependency sections onto typed requirement edges.
func (rc *RegistryClient) Requirements(ctx context.Context, vk VersionKey) ([]RequirementVersion, error) {
	vm, err := rc.Facade.GetPackageVersion(ctx, vk.Name, vk.Version)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		return nil, ErrNotFound
	}
	var reqs []RequirementVersion
	add := func(deps map[string]string, t dep.Type) {
		for name, rng := range deps {
			reqs = append(reqs, RequirementVersion{
				PackageKey: PackageKey{Name: name},
				Range:      rng,
				Type:       t,
			})
		}
	}
	add(vm.Dependencies, dep.Type{})
	add(vm.OptionalDependencies, dep.NewType(dep.Opt))
	add(vm.PeerDependencies, dep.NewType(dep.Peer))
	add(vm.DevDependencies, dep.NewType(dep.Dev))
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].Name != reqs[j].Name {
			return reqs[i].Name < reqs[j].Name
		}
		return reqs[i].Type.Compare(reqs[j].Type) < 0
	})
	return reqs, nil
}

// Dist implements Client.
func (rc *RegistryClient) Dist(ctx context.Context, vk VersionKey) (Dist, error) {
	vm, err := rc.Facade.GetPackageVersion(ctx, vk.Name, vk.Version)
	if err != nil {
		return Dist{}, err
	}
	if vm == nil {
		return Dist{}, ErrNotFound
	}
	return Dist{Resolved: vm.Dist.Tarball, Integrity: vm.Dist.Integrity}, nil
}
