// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "fmt"

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON form of a Graph.
//
// Nodes and edges are sorted so the output diffs and hashes reliably.
type SerializableGraph struct {
	SchemaVersion string             `json:"schemaVersion"`
	Project       string             `json:"project"`
	BuiltAtMilli  int64              `json:"builtAtMilli"`
	GraphHash     string             `json:"graphHash"`
	Nodes         []string           `json:"nodes"`
	Edges         []SerializableEdge `json:"edges"`
}

// SerializableEdge is the JSON form of an Edge.
type SerializableEdge struct {
	From string `json:"from"`
	To   string `json:"to"`

	// Kind is the human-readable kind ("file" or "external").
	Kind string `json:"kind"`

	// KindCode is the integer kind for exact reconstruction.
	KindCode EdgeKind `json:"kindCode"`

	Raw string `json:"raw,omitempty"`
}

// ToSerializable converts the graph to its JSON form. Never returns nil.
func (g *Graph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []string{},
			Edges:         []SerializableEdge{},
		}
	}

	edges := g.Edges()
	out := make([]SerializableEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, SerializableEdge{
			From:     e.From,
			To:       e.To,
			Kind:     e.Kind.String(),
			KindCode: e.Kind,
			Raw:      e.Raw,
		})
	}

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		Project:       g.Project,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Nodes:         g.NodeKeys(),
		Edges:         out,
	}
}

// FromSerializable rebuilds a frozen Graph from its JSON form.
//
// Description:
//
//	Replays AddNode and AddEdge so the reverse index is rebuilt by the same
//	code path that built it originally, then restores BuiltAtMilli.
//
// Outputs:
//   - *Graph: Frozen graph.
//   - error: Non-nil for a nil input, an unknown schema version, or an edge
//     whose source or file target is not a listed node.
func FromSerializable(sg *SerializableGraph) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	g := New(sg.Project)
	for _, key := range sg.Nodes {
		if err := g.AddNode(key); err != nil {
			return nil, fmt.Errorf("adding node %s: %w", key, err)
		}
	}
	for i, se := range sg.Edges {
		if _, err := g.AddEdge(se.From, se.To, se.KindCode, se.Raw); err != nil {
			return nil, fmt.Errorf("adding edge %d (%s -> %s): %w", i, se.From, se.To, err)
		}
	}

	g.Freeze()
	g.BuiltAtMilli = sg.BuiltAtMilli
	return g, nil
}
