package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Token file permissions: owner-only.
const (
	tokenFilePerms = 0o600
	tokenDirPerms  = 0o700
)

// FileTokenSource is a TokenSource backed by an on-disk oauth2 token file.
// Refreshed tokens are written back so the refresh token survives restarts.
// Safe for concurrent use by all workers.
type FileTokenSource struct {
	path   string
	cfg    *oauth2.Config
	logger *slog.Logger

	mu      sync.Mutex
	current *oauth2.Token
	src     oauth2.TokenSource
}

// NewFileTokenSource loads the token file at path and returns a renewable
// token source. A missing or tokenless file is an error — the operator must
// complete the authorization step first.
func NewFileTokenSource(path string, cfg *oauth2.Config, logger *slog.Logger) (*FileTokenSource, error) {
	tok, err := loadTokenFile(path)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, fmt.Errorf("drive: no token file at %s (authorize first)", path)
	}

	return &FileTokenSource{
		path:    path,
		cfg:     cfg,
		logger:  logger,
		current: tok,
		src:     cfg.TokenSource(context.Background(), tok),
	}, nil
}

// Token returns a valid access token, refreshing silently when the cached
// one has expired. A refreshed token is persisted before being returned.
func (f *FileTokenSource) Token(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tok, err := f.src.Token()
	if err != nil {
		return "", fmt.Errorf("drive: refreshing token: %w", err)
	}

	f.persistIfChanged(tok)

	return tok.AccessToken, nil
}

// Renew discards the cached access token and forces a refresh on the next
// Token call. Used when the API rejects a token the oauth2 layer still
// considers valid (server-side revocation, clock skew).
func (f *FileTokenSource) Renew(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	expired := &oauth2.Token{
		RefreshToken: f.current.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	f.src = f.cfg.TokenSource(ctx, expired)

	tok, err := f.src.Token()
	if err != nil {
		return fmt.Errorf("drive: forced token renewal: %w", err)
	}

	f.logger.Info("credentials renewed", slog.Time("expiry", tok.Expiry))
	f.persistIfChanged(tok)

	return nil
}

// persistIfChanged writes the token file when the access token rotated.
// Write failures are logged, not fatal — the in-memory token still works.
func (f *FileTokenSource) persistIfChanged(tok *oauth2.Token) {
	if tok.AccessToken == f.current.AccessToken {
		return
	}

	f.current = tok

	if err := saveTokenFile(f.path, tok); err != nil {
		f.logger.Error("persisting refreshed token failed",
			slog.String("path", f.path),
			slog.String("error", err.Error()),
		)
	}
}

// loadTokenFile reads a saved oauth2 token. Returns (nil, nil) if the file
// does not exist.
func loadTokenFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("drive: reading token file %s: %w", path, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("drive: decoding token file %s: %w", path, err)
	}

	return &tok, nil
}

// saveTokenFile writes a token file atomically (temp file + rename) with
// 0600 permissions. Never logs token values.
func saveTokenFile(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("drive: encoding token: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, tokenDirPerms); mkErr != nil {
		return fmt.Errorf("drive: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("drive: creating temp token file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, tokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("drive: setting token file permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("drive: writing token file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("drive: closing token file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("drive: renaming token file: %w", err)
	}

	success = true

	return nil
}
