package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	appErr "practiceoj/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenState stores the session credential of the workspace.
type TokenState struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

func Load(path string) (TokenState, error) {
	var st TokenState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, appErr.Wrapf(err, appErr.TokenStateFailed, "read token state failed")
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, appErr.Wrapf(err, appErr.TokenStateFailed, "parse token state failed")
	}
	return st, nil
}

func Save(path string, st TokenState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.TokenStateFailed, "create token state dir failed")
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return appErr.Wrapf(err, appErr.TokenStateFailed, "marshal token state failed")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return appErr.Wrapf(err, appErr.TokenStateFailed, "write token state failed")
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return appErr.Wrapf(err, appErr.TokenStateFailed, "remove token state failed")
	}
	return nil
}

// FromToken builds a state from a raw access token. The signature is not checked here;
// the backend verifies it. Only subject and expiry are read.
func FromToken(raw string) (TokenState, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return TokenState{}, appErr.Wrapf(err, appErr.TokenInvalid, "parse access token failed")
	}
	st := TokenState{AccessToken: raw, UserID: claims.Subject}
	if claims.ExpiresAt != nil {
		st.ExpiresAt = claims.ExpiresAt.Time
	}
	return st, nil
}

// Credential returns the access token if it is present and not expired at now.
func (s TokenState) Credential(now time.Time) (string, error) {
	if s.AccessToken == "" {
		return "", appErr.Newf(appErr.Unauthorized, "not logged in")
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return "", appErr.Newf(appErr.TokenExpired, "access token expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	return s.AccessToken, nil
}
