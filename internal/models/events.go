package models

// Event type names carried in the JSON envelope on the text channel.
const (
	EventStatus          = "status"
	EventExecuting       = "executing"
	EventExecuted        = "executed"
	EventProgress        = "progress"
	EventExecutionStart  = "execution_start"
	EventExecutionError  = "execution_error"
	EventExecutionCached = "execution_cached"
)

// Binary frame tags. The wire frame is a 4-byte big-endian tag followed by
// the raw payload, with no length prefix (the transport frames messages).
const (
	BinaryPreviewImage          uint32 = 1
	BinaryUnencodedPreviewImage uint32 = 2
)

// Preview payload image-format header values (first 4 bytes, big-endian,
// of a BinaryPreviewImage payload).
const (
	PreviewFormatJPEG uint32 = 1
	PreviewFormatPNG  uint32 = 2
)

// WSMessage is the JSON envelope for every text-channel event.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StatusPayload builds the queue-status event body. SID is attached only on
// the initial message after a connection is established.
func StatusPayload(queueRemaining int, sid string) map[string]any {
	data := map[string]any{
		"status": map[string]any{
			"exec_info": map[string]any{
				"queue_remaining": queueRemaining,
			},
		},
	}
	if sid != "" {
		data["sid"] = sid
	}
	return data
}

// ExecutingPayload builds the currently-executing-node event body. A nil
// node signals that execution of the prompt has finished.
func ExecutingPayload(nodeID *string, promptID string) map[string]any {
	return map[string]any{
		"node":      nodeID,
		"prompt_id": promptID,
	}
}

// ProgressPayload builds a node progress event body.
func ProgressPayload(value, max int, promptID, nodeID string) map[string]any {
	return map[string]any{
		"value":     value,
		"max":       max,
		"prompt_id": promptID,
		"node":      nodeID,
	}
}

// ExecutedPayload builds a node-result event body.
func ExecutedPayload(nodeID string, output NodeOutput, promptID string) map[string]any {
	return map[string]any{
		"node":      nodeID,
		"output":    output,
		"prompt_id": promptID,
	}
}
