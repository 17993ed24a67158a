package sessions

import "github.com/devanshuguptaa/Converge-AI/pkg/models"

// View is a read-only snapshot of a session. The turns it exposes are final
// and must not be modified.
type View struct {
	key     models.SessionKey
	userID  string
	turns   []*models.Turn
	lastSeq int64
}

// NewView builds a snapshot from turns, for callers outside the manager.
func NewView(key models.SessionKey, userID string, turns []*models.Turn) View {
	v := View{key: key, userID: userID, turns: append([]*models.Turn(nil), turns...)}
	if n := len(turns); n > 0 {
		v.lastSeq = turns[n-1].Seq
	}
	return v
}

// Key returns the session key.
func (v View) Key() models.SessionKey { return v.key }

// UserID returns the session's user.
func (v View) UserID() string { return v.userID }

// History returns the turns in causal order.
func (v View) History() []*models.Turn { return v.turns }

// Len returns the number of turns.
func (v View) Len() int { return len(v.turns) }

// LastSeq returns the sequence number of the newest turn, or 0.
func (v View) LastSeq() int64 { return v.lastSeq }
