package net

// SessionState is the per-connection protocol state. It belongs to the
// session's dispatch goroutine: handlers of this connection mutate it one at
// a time, and nothing else touches it, so it carries no lock.
type SessionState struct {
	ConnID uint64

	UserID        int64 // account identity, 0 before login
	Token         string
	Authenticated bool

	EntityID   int64 // attached character, 0 = none
	EntityName string
	SceneID    int32
	RoomID     int32

	LastSequence uint32
}

func NewSessionState(connID uint64) *SessionState {
	return &SessionState{ConnID: connID}
}

// AcceptSequence validates seq against the last accepted sequence and
// records it on success. Equal or lower sequences are replays.
func (s *SessionState) AcceptSequence(seq uint32) bool {
	if seq <= s.LastSequence {
		return false
	}
	s.LastSequence = seq
	return true
}

// Authenticate marks the session as logged in.
func (s *SessionState) Authenticate(userID int64, token string) {
	s.UserID = userID
	s.Token = token
	s.Authenticated = true
}

// ClearAuth drops the identity and any attached entity. The sequence
// watermark is kept: a logout must not re-open old sequence numbers.
func (s *SessionState) ClearAuth() {
	s.UserID = 0
	s.Token = ""
	s.Authenticated = false
	s.Detach()
}

// HasEntity reports whether a character is attached.
func (s *SessionState) HasEntity() bool {
	return s.EntityID != 0
}

func (s *SessionState) Attach(entityID int64, name string, sceneID int32) {
	s.EntityID = entityID
	s.EntityName = name
	s.SceneID = sceneID
	s.RoomID = 0
}

func (s *SessionState) Detach() {
	s.EntityID = 0
	s.EntityName = ""
	s.SceneID = 0
	s.RoomID = 0
}
