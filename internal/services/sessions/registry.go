package sessions

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/models"
)

// Session is one live websocket connection. Writes are serialized by a
// per-session mutex; gorilla/websocket allows at most one concurrent writer.
type Session struct {
	ID      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// SendJSON writes a typed event envelope to this session.
func (s *Session) SendJSON(eventType string, data any) error {
	payload, err := json.Marshal(models.WSMessage{Type: eventType, Data: data})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// SendBinary writes a pre-framed binary message to this session.
func (s *Session) SendBinary(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Registry owns the set of live sessions keyed by client ID. A client ID is
// a continuity token: reconnecting with the same ID evicts the previous
// connection (last-connect-wins).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   arbor.ILogger

	// Execution continuity for reconnect replay: which session submitted
	// the running job and which node it is currently on.
	executingClient string
	executingPrompt string
	lastNodeID      string
}

func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds a connection under the requested client ID, generating one
// when empty. Any existing session with the same ID is closed and replaced.
func (r *Registry) Register(conn *websocket.Conn, requestedID string) *Session {
	id := requestedID
	if id == "" {
		id = common.NewClientID()
	}

	sess := &Session{ID: id, conn: conn}

	r.mu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = sess
	r.mu.Unlock()

	if prev != nil {
		r.logger.Debug().Str("client_id", id).Msg("Evicting previous session for reconnecting client")
		prev.conn.Close()
	}

	return sess
}

// Unregister removes a session, but only if it is still the registered
// connection for its ID. An evicted session must not remove its successor.
func (r *Registry) Unregister(sess *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[sess.ID]; ok && current == sess {
		delete(r.sessions, sess.ID)
	}
	r.mu.Unlock()
}

// Get returns the session for a client ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SendJSON delivers an event to one client. A write failure drops that
// session only; other sessions are unaffected.
func (r *Registry) SendJSON(clientID, eventType string, data any) {
	sess := r.Get(clientID)
	if sess == nil {
		return
	}
	if err := sess.SendJSON(eventType, data); err != nil {
		r.logger.Warn().Err(err).Str("client_id", clientID).Str("event", eventType).Msg("Dropping session after write failure")
		r.drop(sess)
	}
}

// SendBinary delivers a binary frame to one client.
func (r *Registry) SendBinary(clientID string, frame []byte) {
	sess := r.Get(clientID)
	if sess == nil {
		return
	}
	if err := sess.SendBinary(frame); err != nil {
		r.logger.Warn().Err(err).Str("client_id", clientID).Msg("Dropping session after binary write failure")
		r.drop(sess)
	}
}

// BroadcastJSON delivers an event to every live session.
func (r *Registry) BroadcastJSON(eventType string, data any) {
	for _, sess := range r.snapshot() {
		if err := sess.SendJSON(eventType, data); err != nil {
			r.logger.Warn().Err(err).Str("client_id", sess.ID).Str("event", eventType).Msg("Dropping session after write failure")
			r.drop(sess)
		}
	}
}

// BroadcastBinary delivers a binary frame to every live session.
func (r *Registry) BroadcastBinary(frame []byte) {
	for _, sess := range r.snapshot() {
		if err := sess.SendBinary(frame); err != nil {
			r.logger.Warn().Err(err).Str("client_id", sess.ID).Msg("Dropping session after binary write failure")
			r.drop(sess)
		}
	}
}

func (r *Registry) drop(sess *Session) {
	sess.conn.Close()
	r.Unregister(sess)
}

// SetExecuting records execution progress for reconnect replay. A nil node
// clears the record (execution finished).
func (r *Registry) SetExecuting(clientID, promptID string, nodeID *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nodeID == nil {
		r.executingClient = ""
		r.executingPrompt = ""
		r.lastNodeID = ""
		return
	}
	r.executingClient = clientID
	r.executingPrompt = promptID
	r.lastNodeID = *nodeID
}

// ExecutingFor reports the node being executed on behalf of a client, so a
// reconnecting client can be replayed the in-flight executing event.
func (r *Registry) ExecutingFor(clientID string) (nodeID, promptID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.executingClient != clientID || r.lastNodeID == "" {
		return "", "", false
	}
	return r.lastNodeID, r.executingPrompt, true
}
