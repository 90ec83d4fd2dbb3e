package models

import (
	"encoding/json"
	"fmt"
)

// Node is a single step in a workflow graph. Inputs hold either literal
// values or links: a two-element array [sourceNodeID, outputIndex].
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is a workflow keyed by node ID, in the wire shape clients submit.
type Graph map[string]Node

// Link describes a connection from one node's output to another's input.
type Link struct {
	SourceID    string
	OutputIndex int
}

// ParseLink interprets an input value as a link if it has the
// [nodeID, outputIndex] shape. Returns false for literal values.
func ParseLink(v any) (Link, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return Link{}, false
	}
	id, ok := arr[0].(string)
	if !ok {
		return Link{}, false
	}
	idx, ok := arr[1].(float64)
	if !ok {
		return Link{}, false
	}
	return Link{SourceID: id, OutputIndex: int(idx)}, true
}

// Clone returns a deep copy of the graph via JSON round-trip, so queued
// work is immune to caller mutation.
func (g Graph) Clone() (Graph, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to clone graph: %w", err)
	}
	var out Graph
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to clone graph: %w", err)
	}
	return out, nil
}
