// Package google connects the mail and calendar tools to Gmail and Google
// Calendar through an installed-app OAuth token.
package google

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// ErrNoToken is returned when no cached token exists yet.
var ErrNoToken = errors.New("no google token cached; run `converge google auth`")

// DefaultScopes is requested when the configuration names none.
var DefaultScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailComposeScope,
	calendar.CalendarEventsScope,
}

// AuthConfig points at the OAuth client secret and the token cache.
type AuthConfig struct {
	ClientSecretFile string
	TokenFile        string
	Scopes           []string
}

func (c AuthConfig) scopes() []string {
	if len(c.Scopes) == 0 {
		return DefaultScopes
	}
	return c.Scopes
}

// GrantedScopes maps the configured OAuth scopes onto tool scopes.
func (c AuthConfig) GrantedScopes() models.ScopeSet {
	return models.ParseScopes(c.scopes())
}

// OAuthConfig reads the client secret downloaded from the Cloud console.
func OAuthConfig(cfg AuthConfig) (*oauth2.Config, error) {
	if strings.TrimSpace(cfg.ClientSecretFile) == "" {
		return nil, errors.New("google client_secret_file is required")
	}
	raw, err := os.ReadFile(cfg.ClientSecretFile)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	conf, err := googleoauth.ConfigFromJSON(raw, cfg.scopes()...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	return conf, nil
}

// LoadToken reads a cached token.
func LoadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, path)
}

// persistingSource writes refreshed tokens back to the cache file.
type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := SaveToken(p.path, tok); err != nil {
			return nil, err
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

// HTTPClient returns an authorized client backed by the cached token.
func HTTPClient(ctx context.Context, cfg AuthConfig) (*http.Client, error) {
	conf, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		base: conf.TokenSource(ctx, tok),
		path: cfg.TokenFile,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// Authorize runs the installed-app consent flow: it prints the consent URL
// to out, reads the authorization code from in and caches the token.
func Authorize(ctx context.Context, cfg AuthConfig, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	conf, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}
	return exchange(ctx, conf, cfg.TokenFile, in, out)
}

func exchange(ctx context.Context, conf *oauth2.Config, tokenFile string, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	state := uuid.NewString()
	url := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL in a browser and grant access:\n\n%s\n\nPaste the authorization code: ", url)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return nil, errors.New("authorization code required")
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if err := SaveToken(tokenFile, tok); err != nil {
		return nil, err
	}
	return tok, nil
}
