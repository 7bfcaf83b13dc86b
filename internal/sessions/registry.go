// Package sessions tracks the client sessions the cluster log has opened
// and not yet closed. The registry is touched only from the duty-cycle
// thread and needs no locking.
package sessions

// Registry maps cluster session id to its ClientSession. Membership
// reflects exactly the sessions the log has opened and not yet closed.
type Registry struct {
	byID map[int64]*ClientSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int64]*ClientSession)}
}

// Put registers a session under its id. A duplicate id overwrites the
// existing entry without closing it; see the duplicate-open note in the
// agent's documentation.
func (r *Registry) Put(id int64, session *ClientSession) {
	r.byID[id] = session
}

// Get returns the session for id, or nil when absent.
func (r *Registry) Get(id int64) *ClientSession {
	return r.byID[id]
}

// Remove removes and returns the session for id, or nil when absent. The
// caller owns closing the removed session's response publication; the
// registry never closes resources.
func (r *Registry) Remove(id int64) *ClientSession {
	session, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	return session
}

// Values returns the registered sessions in no particular order.
func (r *Registry) Values() []*ClientSession {
	values := make([]*ClientSession, 0, len(r.byID))
	for _, session := range r.byID {
		values = append(values, session)
	}
	return values
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}
