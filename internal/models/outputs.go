package models

// ImageRef identifies an image file produced by an output node, in the
// coordinate system of the file gateway (filename + subfolder + root kind).
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the UI-facing result payload of a single executed node.
// Image lists appear either directly under "images" or nested under
// "ui" -> "images" depending on the node implementation.
type NodeOutput map[string]any

// Outputs maps node ID to that node's result payload.
type Outputs map[string]NodeOutput

// Images extracts the image list from a node output, checking both the
// direct and the ui-nested shape.
func (o NodeOutput) Images() []ImageRef {
	if refs := imageRefs(o["images"]); refs != nil {
		return refs
	}
	if ui, ok := o["ui"].(map[string]any); ok {
		return imageRefs(ui["images"])
	}
	return nil
}

func imageRefs(v any) []ImageRef {
	switch images := v.(type) {
	case []ImageRef:
		return images
	case []any:
		var refs []ImageRef
		for _, item := range images {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			ref := ImageRef{}
			if s, ok := m["filename"].(string); ok {
				ref.Filename = s
			}
			if s, ok := m["subfolder"].(string); ok {
				ref.Subfolder = s
			}
			if s, ok := m["type"].(string); ok {
				ref.Type = s
			}
			if ref.Filename != "" {
				refs = append(refs, ref)
			}
		}
		return refs
	}
	return nil
}
