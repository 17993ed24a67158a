// Package pairing lets unknown users request direct-message access with a
// short code that an operator approves from the command line.
package pairing

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	CodeLength = 8
	CodeTTL    = time.Hour

	// maxPending bounds outstanding requests.
	maxPending = 100

	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	ErrCodeNotFound = errors.New("pairing code not found")
	ErrTooManyCodes = errors.New("too many pending pairing requests")
)

// Request is a pending pairing request.
type Request struct {
	Code        string    `json:"code"`
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store keeps the allowlist and pending requests as JSON files in dir.
// It is safe for concurrent use within one process.
type Store struct {
	dir  string
	now  func() time.Time
	rand io.Reader
	mu   sync.Mutex
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("pairing dir is required")
	}
	return &Store{dir: dir, now: time.Now, rand: rand.Reader}, nil
}

// IsAllowed reports whether userID has been approved.
func (s *Store) IsAllowed(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allow, err := s.loadAllowlist()
	if err != nil {
		return false, err
	}
	for _, id := range allow {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// Allowlist returns the approved user ids.
func (s *Store) Allowlist() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAllowlist()
}

// Pending returns unexpired requests.
func (s *Store) Pending() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPending()
}

// Request returns the user's open request, creating one when none exists.
// created reports whether a new code was issued.
func (s *Store) Request(userID string) (req Request, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Request{}, false, errors.New("user id is required")
	}
	pending, err := s.loadPending()
	if err != nil {
		return Request{}, false, err
	}
	for _, p := range pending {
		if p.UserID == userID {
			return p, false, nil
		}
	}
	if len(pending) >= maxPending {
		return Request{}, false, ErrTooManyCodes
	}

	taken := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		taken[p.Code] = struct{}{}
	}
	code, err := s.uniqueCode(taken)
	if err != nil {
		return Request{}, false, err
	}
	now := s.now()
	req = Request{Code: code, UserID: userID, RequestedAt: now, ExpiresAt: now.Add(CodeTTL)}
	if err := s.writeJSON(s.pendingPath(), append(pending, req)); err != nil {
		return Request{}, false, err
	}
	return req, true, nil
}

// Approve adds the requesting user to the allowlist.
func (s *Store) Approve(code string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, rest, err := s.take(code)
	if err != nil {
		return Request{}, err
	}
	allow, err := s.loadAllowlist()
	if err != nil {
		return Request{}, err
	}
	if err := s.writeJSON(s.allowlistPath(), dedupe(append(allow, req.UserID))); err != nil {
		return Request{}, err
	}
	if err := s.writeJSON(s.pendingPath(), rest); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Deny discards a pending request.
func (s *Store) Deny(code string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, rest, err := s.take(code)
	if err != nil {
		return Request{}, err
	}
	return req, s.writeJSON(s.pendingPath(), rest)
}

// Revoke removes userID from the allowlist.
func (s *Store) Revoke(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	allow, err := s.loadAllowlist()
	if err != nil {
		return err
	}
	out := allow[:0]
	for _, id := range allow {
		if id != userID {
			out = append(out, id)
		}
	}
	return s.writeJSON(s.allowlistPath(), out)
}

// take finds code among pending requests and returns it with the rest.
func (s *Store) take(code string) (Request, []Request, error) {
	code = normalizeCode(code)
	if code == "" {
		return Request{}, nil, ErrCodeNotFound
	}
	pending, err := s.loadPending()
	if err != nil {
		return Request{}, nil, err
	}
	for i, p := range pending {
		if p.Code == code {
			rest := append(pending[:i:i], pending[i+1:]...)
			return p, rest, nil
		}
	}
	return Request{}, nil, ErrCodeNotFound
}

func (s *Store) allowlistPath() string { return filepath.Join(s.dir, "allowlist.json") }
func (s *Store) pendingPath() string   { return filepath.Join(s.dir, "pending.json") }

func (s *Store) loadAllowlist() ([]string, error) {
	var allow []string
	if err := readJSON(s.allowlistPath(), &allow); err != nil {
		return nil, err
	}
	return dedupe(allow), nil
}

// loadPending drops expired or malformed entries and rewrites the file
// when anything was dropped.
func (s *Store) loadPending() ([]Request, error) {
	var pending []Request
	if err := readJSON(s.pendingPath(), &pending); err != nil {
		return nil, err
	}
	now := s.now()
	live := make([]Request, 0, len(pending))
	for _, p := range pending {
		if p.Code == "" || p.UserID == "" || !p.ExpiresAt.After(now) {
			continue
		}
		p.Code = normalizeCode(p.Code)
		live = append(live, p)
	}
	if len(live) != len(pending) {
		if err := s.writeJSON(s.pendingPath(), live); err != nil {
			return nil, err
		}
	}
	return live, nil
}

func (s *Store) uniqueCode(taken map[string]struct{}) (string, error) {
	for i := 0; i < 20; i++ {
		code, err := randomCode(s.rand)
		if err != nil {
			return "", err
		}
		if _, ok := taken[code]; !ok {
			return code, nil
		}
	}
	return "", errors.New("failed to generate unique pairing code")
}

func randomCode(r io.Reader) (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (s *Store) writeJSON(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
