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
	"fmt"
	"strings"
	"time"

	"sandboxnpm.dev/resolve/dep"
)

// NodeID identifies a node in a Graph.
// It is always scoped to a specific Graph, and is an index of the Nodes
// slice in that Graph.
type NodeID int

// Node is a concrete version in a resolved dependency Graph.
type Node struct {
	Version VersionKey
	Dist    Dist
	// Requires holds the node's declared regular dependency ranges, for
	// lockfile emission.
	Requires map[string]string
	// Depth is the shortest declared-dependency distance from the root.
	Depth int
	// Dev, Optional and Peer record the union of edge kinds through which
	// the node is reachable.
	Dev, Optional, Peer bool
}

// Edge represents a resolution From an importer Node To an imported Node,
// satisfying the importer's Requirement for the given dependency Type.
type Edge struct {
	From        NodeID
	To          NodeID
	Requirement string
	Type        dep.Type
}

// Graph holds the result of a dependency resolution. The first node is
// the root.
type Graph struct {
	Nodes []Node
	Edges []Edge

	// Duration is the time it took to perform this resolution.
	Duration time.Duration
}

// AddNode inserts a node into the graph, not connected to anything. The
// returned ID is required to add edges.
func (g *Graph) AddNode(n Node) NodeID {
	g.Nodes = append(g.Nodes, n)
	return NodeID(len(g.Nodes) - 1)
}

// AddEdge connects two nodes of the graph.
func (g *Graph) AddEdge(from, to NodeID, requirement string, t dep.Type) error {
	if from < 0 || int(from) >= len(g.Nodes) || to < 0 || int(to) >= len(g.Nodes) {
		return fmt.Errorf("edge endpoints out of range: %d -> %d", from, to)
	}
	g.Edges = append(g.Edges, Edge{From: from, To: to, Requirement: requirement, Type: t})
	return nil
}

// EdgesFrom returns the outgoing edges of the given node, in insertion
// order.
func (g *Graph) EdgesFrom(id NodeID) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns the incoming edges of the given node, in insertion
// order.
func (g *Graph) EdgesTo(id NodeID) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.To == id {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) String() string {
	var sb strings.Builder
	for id, n := range g.Nodes {
		fmt.Fprintf(&sb, "%d: %v\n", id, n.Version)
		for _, e := range g.EdgesFrom(NodeID(id)) {
			fmt.Fprintf(&sb, "  %s@%s -> %d (%s)\n", g.Nodes[e.To].Version.Name, e.Requirement, e.To, e.Type)
		}
	}
	return sb.String()
}
