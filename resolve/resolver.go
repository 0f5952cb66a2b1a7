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
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"sandboxnpm.dev/errs"
	"sandboxnpm.dev/manifest"
	"sandboxnpm.dev/resolve/dep"
	"sandboxnpm.dev/semver"
)

// Options controls a resolution.
type Options struct {
	// IncludeDev resolves the root manifest's devDependencies. Transitive
	// devDependencies are never resolved, matching npm.
	IncludeDev bool
	// IncludeOptional resolves optionalDependencies; a missing optional
	// is skipped rather than failing the resolve.
	IncludeOptional bool
	// IncludePeer resolves absent peers as if they were regular
	// dependencies instead of only constraining present ones.
	IncludePeer bool
	// Strict makes an unsatisfied peer constraint a resolution error
	// rather than a warning.
	Strict bool
	// IncludePrerelease lifts the prerelease visibility rule during
	// version selection.
	IncludePrerelease bool
}

// Resolver computes pinned dependency graphs.
// Dependencies are resolved breadth-first in lexicographic order, so a
// given manifest and client state always produce the same graph and the
// same lockfile bytes.
type Resolver struct {
	client Client
	opts   Options
	log    *log.Logger
}

// NewResolver creates a Resolver connected to the given client.
// It is safe for concurrent use.
func NewResolver(client Client, opts Options) *Resolver {
	return &Resolver{client: client, opts: opts, log: log.New(io.Discard, "", 0)}
}

// SetLogger directs resolution warnings (unsatisfied peers in non-strict
// mode) to l.
func (r *Resolver) SetLogger(l *log.Logger) { r.log = l }

// workItem is one queued requirement to satisfy.
type workItem struct {
	name   string
	rng    string
	typ    dep.Type
	parent NodeID
	depth  int
	// ancestors is the chain of concrete versions from the root to the
	// demanding node, used for cycle detection.
	ancestors []VersionKey
}

// peerDemand is a recorded peer constraint, checked after the graph
// closes.
type peerDemand struct {
	name string
	rng  string
	from VersionKey
}

// state is the per-resolution bookkeeping.
type state struct {
	graph *Graph
	// nodes maps a concrete version to its node: identical (name,
	// version) is always the same node.
	nodes map[VersionKey]NodeID
	// byName lists the nodes per package name in creation order; the
	// first entry is the hoist winner.
	byName map[string][]NodeID
	// demands accumulates every range demanded of a node, for
	// backtracking re-selection.
	demands map[NodeID][]demand
	peers   []peerDemand
}

type demand struct {
	rng  string
	from VersionKey
}

// Resolve computes the closed dependency graph of the given root
// manifest.
func (r *Resolver) Resolve(ctx context.Context, root manifest.Manifest) (*Graph, error) {
	start := time.Now()
	st := &state{
		graph:   &Graph{},
		nodes:   make(map[VersionKey]NodeID),
		byName:  make(map[string][]NodeID),
		demands: make(map[NodeID][]demand),
	}
	rootKey := VersionKey{PackageKey: PackageKey{Name: root.Name}, Version: root.Version}
	rootID := st.graph.AddNode(Node{Version: rootKey, Requires: copyRanges(root.Dependencies)})

	queue := r.seedQueue(root, rootID, rootKey, st)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(err, errs.ETIMEOUT)
		}
		item := queue[0]
		queue = queue[1:]
		children, err := r.process(ctx, st, item)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}

	if err := r.checkPeers(ctx, st); err != nil {
		return nil, err
	}
	st.graph.Duration = time.Since(start)
	return st.graph, nil
}

// seedQueue builds the initial work queue from the root manifest's
// dependency sections, in sorted name order per section kind.
func (r *Resolver) seedQueue(root manifest.Manifest, rootID NodeID, rootKey VersionKey, st *state) []workItem {
	var queue []workItem
	enqueue := func(deps map[string]string, t dep.Type) {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			queue = append(queue, workItem{
				name:      name,
				rng:       deps[name],
				typ:       t,
				parent:    rootID,
				depth:     1,
				ancestors: []VersionKey{rootKey},
			})
		}
	}
	enqueue(root.Dependencies, dep.Type{})
	if r.opts.IncludeDev {
		enqueue(root.DevDependencies, dep.NewType(dep.Dev))
	}
	if r.opts.IncludeOptional {
		enqueue(root.OptionalDependencies, dep.NewType(dep.Opt))
	}
	if r.opts.IncludePeer {
		enqueue(root.PeerDependencies, dep.NewType(dep.Peer))
	} else {
		for name, rng := range root.PeerDependencies {
			st.peers = append(st.peers, peerDemand{name: name, rng: rng, from: rootKey})
		}
	}
	return queue
}

// process satisfies one work item: select a version, attach or create the
// node, and return the child items to enqueue.
func (r *Resolver) process(ctx context.Context, st *state, item workItem) ([]workItem, error) {
	// "workspace:" dependencies live in the invoking workspace; they pin
	// a local sentinel instead of fetching from the registry.
	if rest, ok := strings.CutPrefix(item.rng, "workspace:"); ok {
		return nil, r.materializeWorkspace(st, item, rest)
	}
	// "npm:real@range" aliases resolve the real package under its real
	// name and range.
	if rest, ok := strings.CutPrefix(item.rng, "npm:"); ok {
		spec := manifest.ClassifySpecifier(item.name, "npm:"+rest)
		if !spec.Valid {
			return nil, errs.Wrap(spec.Err, errs.EPARSE).With("package", item.name)
		}
		item.name = spec.RealName
		item.rng = spec.Range
	}

	rng, err := semver.ParseRange(item.rng)
	if err != nil {
		return nil, errs.Newf(errs.EPARSE, "range %q for %s: %v", item.rng, item.name, err).
			With("package", item.name)
	}
	versions, err := r.client.Versions(ctx, PackageKey{Name: item.name})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if item.typ.HasAttr(dep.Opt) {
				return nil, nil
			}
			return nil, errs.Newf(errs.ENOTFOUND, "package %s not found", item.name).
				With("package", item.name)
		}
		return nil, err
	}

	candidates := r.candidates(versions, rng)
	selOpts := semver.Options{IncludePrerelease: r.opts.IncludePrerelease}
	sel, ok := semver.MaxSatisfying(candidates, rng, selOpts)
	if !ok {
		if item.typ.HasAttr(dep.Opt) {
			return nil, nil
		}
		return nil, errs.Newf(errs.ERESOLUTION,
			"no version of %s satisfies %q (tried %d candidates)",
			item.name, item.rng, len(candidates)).
			With("package", item.name).With("version", item.rng)
	}
	vk := VersionKey{PackageKey: PackageKey{Name: item.name}, Version: sel.String()}

	// Structural sharing: the same concrete version is always the same
	// node. Record the new edge and constraint; its children are already
	// queued or resolved.
	if id, ok := st.nodes[vk]; ok {
		if err := r.checkCycle(item, vk); err != nil {
			return nil, err
		}
		r.attach(st, item, id, vk)
		return nil, nil
	}

	// A different version of an already-placed package. Try a
	// backtracking re-selection first: if one version satisfies every
	// range accumulated against the hoist winner plus this new one, the
	// winner is re-pinned to it and no duplicate is materialized.
	if ids := st.byName[item.name]; len(ids) > 0 {
		primary := ids[0]
		if children, reOK, err := r.reselect(ctx, st, primary, item, rng, candidates, selOpts); err != nil {
			return nil, err
		} else if reOK {
			if err := r.checkCycle(item, st.graph.Nodes[primary].Version); err != nil {
				return nil, err
			}
			r.attach(st, item, primary, st.graph.Nodes[primary].Version)
			return children, nil
		}
		// Disjoint demands: the duplicate version nests under its
		// demander, unless that would shadow the demander itself.
		parent := st.graph.Nodes[item.parent].Version
		if parent.Name == item.name {
			first := st.demands[primary]
			var other VersionKey
			if len(first) > 0 {
				other = first[0].from
			}
			return nil, errs.Newf(errs.ERESOLUTION,
				"conflicting requirements for %s: %q from %v and %q from %v",
				item.name, item.rng, parent, firstRange(first), other).
				With("package", item.name)
		}
	}

	if err := r.checkCycle(item, vk); err != nil {
		return nil, err
	}
	return r.materialize(ctx, st, item, vk)
}

// materializeWorkspace records a workspace dependency as a local pin.
// An exact version in the protocol ("workspace:1.2.0") is kept; range
// forms ("workspace:*", "workspace:^1.0.0") pin the sentinel 0.0.0.
func (r *Resolver) materializeWorkspace(st *state, item workItem, rest string) error {
	version := "0.0.0"
	if v, err := semver.Parse(rest); err == nil {
		version = v.String()
	}
	vk := VersionKey{PackageKey: PackageKey{Name: item.name}, Version: version}
	if id, ok := st.nodes[vk]; ok {
		r.attach(st, item, id, vk)
		return nil
	}
	id := st.graph.AddNode(Node{
		Version: vk,
		Dist:    Dist{Resolved: "workspace:" + item.name},
		Depth:   item.depth,
	})
	st.nodes[vk] = id
	st.byName[item.name] = append(st.byName[item.name], id)
	st.graph.AddEdge(item.parent, id, item.rng, item.typ)
	st.demands[id] = append(st.demands[id], demand{rng: item.rng, from: st.graph.Nodes[item.parent].Version})
	return nil
}

// candidates narrows the version list to those at or above the range's
// lower bound; MaxSatisfying does the full check.
func (r *Resolver) candidates(versions []semver.Version, rng semver.Range) []semver.Version {
	lo, ok := rng.LowerBound()
	if !ok {
		return versions
	}
	out := versions[:0:0]
	for _, v := range versions {
		if semver.Compare(v, lo) >= 0 {
			out = append(out, v)
		}
	}
	return out
}

// reselect attempts the backtracking step: find one version satisfying
// the intersection of every accumulated demand on the node and the new
// range. When the intersection pins a different version, the node is
// reopened: re-pinned, its old child edges dropped, and the new
// version's requirements returned for re-resolution.
func (r *Resolver) reselect(ctx context.Context, st *state, id NodeID, item workItem, rng semver.Range, candidates []semver.Version, selOpts semver.Options) ([]workItem, bool, error) {
	accumulated := make([]semver.Range, 0, len(st.demands[id])+1)
	for _, d := range st.demands[id] {
		dr, err := semver.ParseRange(d.rng)
		if err != nil {
			continue
		}
		accumulated = append(accumulated, dr)
	}
	accumulated = append(accumulated, rng)

	var best semver.Version
	found := false
	for _, v := range candidates {
		all := true
		for _, ar := range accumulated {
			if !semver.Satisfies(v, ar, selOpts) {
				all = false
				break
			}
		}
		if all && (!found || semver.Compare(v, best) > 0) {
			best, found = v, true
		}
	}
	if !found {
		return nil, false, nil
	}

	node := &st.graph.Nodes[id]
	if best.String() == node.Version.Version {
		return nil, true, nil
	}
	// Re-pin. The node keeps its identity and inbound edges; its
	// requirement set changes with the version, so its old child edges
	// are dropped and the new requirements re-resolved. Nodes only the
	// old children reached become orphans; lockfile emission walks from
	// the root and never sees them.
	old := node.Version
	delete(st.nodes, old)
	node.Version = VersionKey{PackageKey: old.PackageKey, Version: best.String()}
	st.nodes[node.Version] = id
	dist, err := r.client.Dist(ctx, node.Version)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	node.Dist = dist
	reqs, err := r.client.Requirements(ctx, node.Version)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	node.Requires = requiresOf(reqs)
	kept := st.graph.Edges[:0]
	for _, e := range st.graph.Edges {
		if e.From != id {
			kept = append(kept, e)
		}
	}
	st.graph.Edges = kept

	ancestors := append(append([]VersionKey{}, item.ancestors...), node.Version)
	var children []workItem
	for _, req := range reqs {
		switch {
		case req.Type.HasAttr(dep.Dev):
			continue
		case req.Type.HasAttr(dep.Peer):
			if !r.opts.IncludePeer {
				st.peers = append(st.peers, peerDemand{name: req.Name, rng: req.Range, from: node.Version})
				continue
			}
		case req.Type.HasAttr(dep.Opt):
			if !r.opts.IncludeOptional {
				continue
			}
		}
		children = append(children, workItem{
			name:      req.Name,
			rng:       req.Range,
			typ:       req.Type,
			parent:    id,
			depth:     node.Depth + 1,
			ancestors: ancestors,
		})
	}
	return children, true, nil
}

func firstRange(ds []demand) string {
	if len(ds) == 0 {
		return ""
	}
	return ds[0].rng
}

// checkCycle rejects a selection whose concrete version is already on the
// demanding ancestry chain.
func (r *Resolver) checkCycle(item workItem, vk VersionKey) error {
	for _, anc := range item.ancestors {
		if anc == vk {
			return errs.Newf(errs.ERESOLUTION, "dependency cycle through %v", vk).
				With("package", vk.Name).With("version", vk.Version)
		}
	}
	return nil
}

// attach records an edge and a demand against an existing node and widens
// its reachability flags.
func (r *Resolver) attach(st *state, item workItem, id NodeID, vk VersionKey) {
	st.graph.AddEdge(item.parent, id, item.rng, item.typ)
	st.demands[id] = append(st.demands[id], demand{rng: item.rng, from: st.graph.Nodes[item.parent].Version})
	n := &st.graph.Nodes[id]
	n.Dev = n.Dev || item.typ.HasAttr(dep.Dev)
	n.Optional = n.Optional || item.typ.HasAttr(dep.Opt)
	n.Peer = n.Peer || item.typ.HasAttr(dep.Peer)
	if item.depth < n.Depth {
		n.Depth = item.depth
	}
}

// materialize creates the node for a fresh selection and queues its
// children.
func (r *Resolver) materialize(ctx context.Context, st *state, item workItem, vk VersionKey) ([]workItem, error) {
	dist, err := r.client.Dist(ctx, vk)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	reqs, err := r.client.Requirements(ctx, vk)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		reqs = nil
	}

	id := st.graph.AddNode(Node{
		Version:  vk,
		Dist:     dist,
		Requires: requiresOf(reqs),
		Depth:    item.depth,
		Dev:      item.typ.HasAttr(dep.Dev),
		Optional: item.typ.HasAttr(dep.Opt),
		Peer:     item.typ.HasAttr(dep.Peer),
	})
	st.nodes[vk] = id
	st.byName[item.name] = append(st.byName[item.name], id)
	st.graph.AddEdge(item.parent, id, item.rng, item.typ)
	st.demands[id] = append(st.demands[id], demand{rng: item.rng, from: st.graph.Nodes[item.parent].Version})

	ancestors := append(append([]VersionKey{}, item.ancestors...), vk)
	var children []workItem
	for _, req := range reqs {
		switch {
		case req.Type.HasAttr(dep.Dev):
			// Transitive dev dependencies are never installed.
			continue
		case req.Type.HasAttr(dep.Peer):
			if !r.opts.IncludePeer {
				st.peers = append(st.peers, peerDemand{name: req.Name, rng: req.Range, from: vk})
				continue
			}
		case req.Type.HasAttr(dep.Opt):
			if !r.opts.IncludeOptional {
				continue
			}
		}
		// A child introduced by an optional or dev subtree keeps that
		// flag for lockfile marking.
		t := req.Type
		if item.typ.HasAttr(dep.Dev) {
			t.AddAttr(dep.Dev)
		}
		if item.typ.HasAttr(dep.Opt) {
			t.AddAttr(dep.Opt)
		}
		children = append(children, workItem{
			name:      req.Name,
			rng:       req.Range,
			typ:       t,
			parent:    id,
			depth:     item.depth + 1,
			ancestors: ancestors,
		})
	}
	return children, nil
}

// requiresOf extracts the declared regular dependency ranges from a
// requirement list.
func requiresOf(reqs []RequirementVersion) map[string]string {
	var out map[string]string
	for _, req := range reqs {
		if req.Type.HasAttr(dep.Dev) || req.Type.HasAttr(dep.Peer) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[req.Name] = req.Range
	}
	return out
}

// checkPeers verifies every recorded peer constraint against the closed
// graph. Absent or unsatisfied peers fail in strict mode and warn
// otherwise.
func (r *Resolver) checkPeers(ctx context.Context, st *state) error {
	for _, p := range st.peers {
		ids := st.byName[p.name]
		if len(ids) == 0 {
			if r.opts.Strict {
				return errs.Newf(errs.ERESOLUTION,
					"peer dependency %s@%q of %v is not present", p.name, p.rng, p.from).
					With("package", p.name)
			}
			r.log.Printf("resolve: unmet peer dependency %s@%q required by %v", p.name, p.rng, p.from)
			continue
		}
		rng, err := semver.ParseRange(p.rng)
		if err != nil {
			// A peer on a tag or URL cannot be checked against a pin.
			r.log.Printf("resolve: cannot check peer range %q of %v: %v", p.rng, p.from, err)
			continue
		}
		pinned := st.graph.Nodes[ids[0]].Version.Version
		v, err := semver.Parse(pinned)
		if err != nil {
			continue
		}
		if !semver.Satisfies(v, rng, semver.Options{IncludePrerelease: r.opts.IncludePrerelease}) {
			if r.opts.Strict {
				return errs.Newf(errs.ERESOLUTION,
					"peer dependency %s@%q of %v conflicts with pinned %s", p.name, p.rng, p.from, pinned).
					With("package", p.name).With("version", pinned)
			}
			r.log.Printf("resolve: peer dependency %s@%q of %v conflicts with pinned %s", p.name, p.rng, p.from, pinned)
		}
	}
	return nil
}

func copyRanges(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
