package store

import "time"

// Session represents one interactive chat run
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    string
	Metadata  map[string]string // provider, store, etc.
}

// Session statuses.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
	SessionFailed = "failed"
)

// ConfigStore persists local settings such as encrypted API keys.
type ConfigStore interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// SessionStore records chat sessions. The chat runner writes them and
// `recall sessions` reads them back.
type SessionStore interface {
	CreateSession(session *Session) error
	GetSession(id string) (*Session, error)
	UpdateSession(session *Session) error
	ListSessions(userID string) ([]*Session, error)
}
