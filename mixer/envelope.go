package mixer

import (
	"encoding/json"
	"time"
)

// Result is the outcome of an asynchronous backend command, delivered to
// the continuation the original caller registered.
type Result struct {
	// Success mirrors the backend reply's returnValue field. Malformed
	// replies and timeouts yield Success == false.
	Success bool

	// Payload is the backend's raw JSON reply, echoed back so callers
	// can forward it. Nil on timeout.
	Payload json.RawMessage

	// ErrMsg is set for internal failures (malformed reply, timeout).
	ErrMsg string
}

// backendReply is the minimal shape every backend reply must decode to.
type backendReply struct {
	ReturnValue bool `json:"returnValue"`
}

// pendingRequest correlates an issued async command with its caller's
// continuation. Each entry is resolved exactly once: the first of
// completion callback or timeout removes it from the table, every later
// event for the same id is ignored.
type pendingRequest struct {
	id    RequestID
	op    string
	done  func(Result)
	timer *time.Timer
}

func (m *Mixer) nextRequestID() RequestID {
	m.lastReqID++
	return m.lastReqID
}

// trackRequest registers a pending request and arms its timeout. The
// timeout fires on the control loop via the dispatcher.
func (m *Mixer) trackRequest(op string, done func(Result)) *pendingRequest {
	req := &pendingRequest{
		id:   m.nextRequestID(),
		op:   op,
		done: done,
	}
	m.pending[req.id] = req

	id := req.id
	req.timer = time.AfterFunc(m.reqTimeout, func() {
		m.dispatch(func() { m.expireRequest(id) })
	})
	return req
}

// resolveRequest completes a pending request. Safe to call with an unknown
// id (late or duplicate callbacks are dropped).
func (m *Mixer) resolveRequest(id RequestID, res Result) {
	req, ok := m.pending[id]
	if !ok {
		m.log.Tracef("dropping completion for unknown request %d", id)
		return
	}
	delete(m.pending, id)
	req.timer.Stop()
	if req.done != nil {
		req.done(res)
	}
}

func (m *Mixer) expireRequest(id RequestID) {
	req, ok := m.pending[id]
	if !ok {
		return
	}
	m.log.Warnf("backend request %d (%s) timed out after %v", id, req.op,
		m.reqTimeout)
	delete(m.pending, id)
	if req.done != nil {
		req.done(Result{ErrMsg: "backend request timed out"})
	}
}

// RequestCompleted resolves the pending request identified by id with the
// backend's raw reply. Replies that do not decode to the expected shape
// are surfaced as a generic internal failure.
func (s *backendSink) RequestCompleted(id RequestID, payload json.RawMessage) {
	var reply backendReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		s.m.log.Warnf("malformed %s backend reply for request %d: %v",
			s.kind, id, err)
		s.m.resolveRequest(id, Result{ErrMsg: "malformed backend reply"})
		return
	}
	s.m.resolveRequest(id, Result{Success: reply.ReturnValue, Payload: payload})
}
