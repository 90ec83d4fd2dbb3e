package executor

import (
	"fmt"
	"sort"

	"github.com/tuyendl123/ComfyUI/internal/models"
)

// Validate checks a graph for structural errors: unknown classes, missing
// required inputs, dangling or out-of-range links, cycles, and the absence
// of any output node. On success it returns the output-node IDs in a
// deterministic order. Failures return a *models.ValidationError carrying
// per-node diagnostics; nothing is enqueued for an invalid graph.
func (e *Executor) Validate(graph models.Graph) ([]string, error) {
	if len(graph) == 0 {
		return nil, &models.ValidationError{
			Summary: "prompt has no nodes",
			Nodes:   map[string]any{},
		}
	}

	nodeErrors := map[string]any{}
	addError := func(nodeID, errType, message string) {
		entry, _ := nodeErrors[nodeID].(map[string]any)
		if entry == nil {
			entry = map[string]any{
				"class_type": graph[nodeID].ClassType,
				"errors":     []map[string]any{},
			}
		}
		entry["errors"] = append(entry["errors"].([]map[string]any), map[string]any{
			"type":    errType,
			"message": message,
		})
		nodeErrors[nodeID] = entry
	}

	var outputs []string
	for nodeID, node := range graph {
		def, known := e.registry.Get(node.ClassType)
		if !known {
			addError(nodeID, "invalid_class_type", fmt.Sprintf("unknown node type %q", node.ClassType))
			continue
		}
		if def.OutputNode {
			outputs = append(outputs, nodeID)
		}

		for inputName := range def.Inputs {
			if _, present := node.Inputs[inputName]; !present {
				addError(nodeID, "required_input_missing", fmt.Sprintf("required input %q is missing", inputName))
			}
		}

		for inputName, value := range node.Inputs {
			link, isLink := models.ParseLink(value)
			if !isLink {
				continue
			}
			source, exists := graph[link.SourceID]
			if !exists {
				addError(nodeID, "bad_link", fmt.Sprintf("input %q links to missing node %q", inputName, link.SourceID))
				continue
			}
			sourceDef, sourceKnown := e.registry.Get(source.ClassType)
			if sourceKnown && link.OutputIndex >= len(sourceDef.ReturnTypes) {
				addError(nodeID, "bad_link", fmt.Sprintf("input %q links to output %d of %q, which has %d outputs",
					inputName, link.OutputIndex, link.SourceID, len(sourceDef.ReturnTypes)))
			}
		}
	}

	if cycleNode := findCycle(graph); cycleNode != "" {
		addError(cycleNode, "cycle", "node participates in a dependency cycle")
	}

	if len(nodeErrors) > 0 {
		return nil, &models.ValidationError{
			Summary: fmt.Sprintf("prompt has %d invalid node(s)", len(nodeErrors)),
			Nodes:   nodeErrors,
		}
	}

	if len(outputs) == 0 {
		return nil, &models.ValidationError{
			Summary: "prompt has no output nodes",
			Nodes:   map[string]any{},
		}
	}

	sort.Strings(outputs)
	return outputs, nil
}

// findCycle returns the ID of a node on a dependency cycle, or "".
func findCycle(graph models.Graph) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(graph))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		node, ok := graph[id]
		if ok {
			for _, value := range node.Inputs {
				if link, isLink := models.ParseLink(value); isLink {
					if _, exists := graph[link.SourceID]; exists {
						if hit := visit(link.SourceID); hit != "" {
							return hit
						}
					}
				}
			}
		}
		state[id] = done
		return ""
	}

	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if hit := visit(id); hit != "" {
			return hit
		}
	}
	return ""
}
