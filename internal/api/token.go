package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned by TokenStore.Token when nothing has been saved yet.
var ErrNoToken = errors.New("no session token; run `meetcal login` first")

// TokenStore keeps the backend session token in a JSON file and serves it as
// an oauth2.TokenSource.
type TokenStore struct {
	path string

	mu  sync.Mutex
	tok *oauth2.Token
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

func (s *TokenStore) Path() string { return s.path }

// Token implements oauth2.TokenSource. The file is read once and cached.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok != nil {
		return s.tok, nil
	}
	tok, err := tokenFromFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	s.tok = tok
	return tok, nil
}

// Save persists tok with 0600 permissions and replaces the cached copy.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("token is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
	return nil
}

// Clear forgets the token and removes the file.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.tok = nil
	s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// StaticToken wraps a fixed bearer token, e.g. one taken from the
// environment.
func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}
