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
	"encoding/json"
	"sort"
	"strings"
)

// LockfileVersion is the emitted lockfile schema version.
const LockfileVersion = 3

// Lockfile is the serializable snapshot of a resolved graph in a hoisted
// node_modules layout. Marshaling a Lockfile is byte-stable: struct
// fields emit in declaration order and map keys sort.
type Lockfile struct {
	LockfileVersion int                    `json:"lockfileVersion"`
	Name            string                 `json:"name"`
	Version         string                 `json:"version"`
	Packages        map[string]LockPackage `json:"packages"`
}

// LockPackage is one installed package at an install path.
type LockPackage struct {
	Name         string            `json:"name,omitempty"`
	Version      string            `json:"version,omitempty"`
	Resolved     string            `json:"resolved,omitempty"`
	Integrity    string            `json:"integrity,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Dev          bool              `json:"dev,omitempty"`
	Optional     bool              `json:"optional,omitempty"`
	Peer         bool              `json:"peer,omitempty"`
}

// Serialize renders the lockfile as indented JSON with a trailing
// newline. Two resolves over the same input produce identical bytes.
func (l Lockfile) Serialize() ([]byte, error) {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Lockfile lays the graph out as a hoisted node_modules tree and returns
// the lockfile document. Each package lands at the shallowest install
// path where no sibling of the same name carries a different version;
// conflicting duplicates nest under their demanders.
func (g *Graph) Lockfile() (Lockfile, error) {
	root := g.Nodes[0]
	lf := Lockfile{
		LockfileVersion: LockfileVersion,
		Name:            root.Version.Name,
		Version:         root.Version.Version,
		Packages:        make(map[string]LockPackage),
	}
	lf.Packages[""] = LockPackage{
		Name:         root.Version.Name,
		Version:      root.Version.Version,
		Dependencies: root.Requires,
	}

	reachable := g.reachable()

	// Hoist winners: the first-created node of each name that is
	// reachable claims the root-level slot. Creation order is BFS order,
	// so shallower demanders win, and ties go to the earlier enqueue.
	hoisted := make(map[string]NodeID)
	paths := make(map[NodeID]string)
	for id := 1; id < len(g.Nodes); id++ {
		nid := NodeID(id)
		if !reachable[nid] {
			continue
		}
		name := g.Nodes[id].Version.Name
		if _, taken := hoisted[name]; !taken {
			hoisted[name] = nid
			paths[nid] = "node_modules/" + name
		}
	}

	// Duplicates nest under each demander that cannot see the hoisted
	// version.
	for id := 1; id < len(g.Nodes); id++ {
		nid := NodeID(id)
		if !reachable[nid] || hoisted[g.Nodes[id].Version.Name] == nid {
			continue
		}
		name := g.Nodes[id].Version.Name
		for _, e := range g.EdgesTo(nid) {
			base, ok := paths[e.From]
			if !ok {
				// The demander is the root or itself an unplaced
				// duplicate; fall back to the demander's name.
				if e.From == 0 {
					continue
				}
				base = "node_modules/" + g.Nodes[e.From].Version.Name
			}
			n := g.Nodes[id]
			addEntry(lf.Packages, base+"/node_modules/"+name, n)
			if _, placed := paths[nid]; !placed {
				paths[nid] = base + "/node_modules/" + name
			}
		}
	}

	for name, nid := range hoisted {
		addEntry(lf.Packages, "node_modules/"+name, g.Nodes[nid])
	}
	return lf, nil
}

func addEntry(packages map[string]LockPackage, path string, n Node) {
	packages[path] = LockPackage{
		Version:      n.Version.Version,
		Resolved:     n.Dist.Resolved,
		Integrity:    n.Dist.Integrity,
		Dependencies: n.Requires,
		Dev:          n.Dev,
		Optional:     n.Optional,
		Peer:         n.Peer,
	}
}

// reachable marks the nodes a root walk can see, excluding orphans left
// behind by backtracking re-selection.
func (g *Graph) reachable() map[NodeID]bool {
	seen := map[NodeID]bool{0: true}
	queue := []NodeID{0}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Edges {
			if e.From == cur && !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

// InstallPaths returns the sorted install paths of the lockfile, mostly
// for tests and display.
func (l Lockfile) InstallPaths() []string {
	ps := make([]string, 0, len(l.Packages))
	for p := range l.Packages {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return ps
}

// PathDepth reports how deeply nested an install path is: 0 for the
// root, 1 for a direct dependency.
func PathDepth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, "node_modules/")
}
