// Package auth issues and verifies the broker's two kinds of signed
// credentials: long-lived access tokens that authenticate API calls, and
// short-lived editor session tokens that authorize one editor
// configuration with the external editing engine.
package auth

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/models"
)

// AccessAudience is stamped on every access token and required on verify.
const AccessAudience = "docbroker-api"

// reservedClaims are controlled by the signer and never taken from an
// editor configuration sent by the client.
var reservedClaims = []string{"aud", "iss", "sub", "nbf", "exp", "iat", "jti"}

// AccessClaims is the JWT body of an access token.
type AccessClaims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	jwt.RegisteredClaims
}

// Subject returns the identity carried by the claims.
func (c *AccessClaims) Subject() models.Subject {
	return models.Subject{ID: c.ID, Username: c.Username, Email: c.Email, Name: c.Name}
}

// Authority signs and verifies tokens. It is stateless and safe for
// concurrent use.
type Authority struct {
	accessSecret []byte
	accessTTL    time.Duration
	editorSecret []byte
	editorTTL    time.Duration
	now          func() time.Time
}

// AuthorityOption customises an Authority.
type AuthorityOption func(*Authority)

// WithClock overrides the time source.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) { a.now = now }
}

// NewAuthority returns an Authority. editorSecret may equal accessSecret;
// the audience claim keeps the two scopes apart.
func NewAuthority(accessSecret []byte, accessTTL time.Duration, editorSecret []byte, editorTTL time.Duration, opts ...AuthorityOption) *Authority {
	a := &Authority{
		accessSecret: accessSecret,
		accessTTL:    accessTTL,
		editorSecret: editorSecret,
		editorTTL:    editorTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AccessTTL returns the lifetime of access tokens.
func (a *Authority) AccessTTL() time.Duration { return a.accessTTL }

// EditorTTL returns the lifetime of editor session tokens.
func (a *Authority) EditorTTL() time.Duration { return a.editorTTL }

// IssueAccessToken signs subject claims with the access secret.
func (a *Authority) IssueAccessToken(sub models.Subject) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.accessTTL)
	claims := AccessClaims{
		ID:       sub.ID,
		Username: sub.Username,
		Email:    sub.Email,
		Name:     sub.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{AccessAudience},
			Subject:   strconv.FormatInt(sub.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	return tok, exp, nil
}

// VerifyAccessToken checks signature, expiry and audience. Every failure
// collapses into apperr.ErrUnauthorized so callers cannot tell them apart.
func (a *Authority) VerifyAccessToken(token string) (models.Subject, error) {
	if token == "" {
		return models.Subject{}, apperr.ErrUnauthorized
	}
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.accessSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AccessAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return models.Subject{}, apperr.ErrUnauthorized
	}
	return claims.Subject(), nil
}

// IssueEditorSessionToken signs an editor configuration after replacing
// editorConfig.user with the verified subject. The input map is not
// modified.
func (a *Authority) IssueEditorSessionToken(sub models.Subject, config map[string]any) (string, time.Time, error) {
	if config == nil {
		return "", time.Time{}, fmt.Errorf("%w: editor configuration payload is required", apperr.ErrInvalidInput)
	}
	if _, ok := config["document"].(map[string]any); !ok {
		return "", time.Time{}, errMissingSections
	}
	editor, ok := config["editorConfig"].(map[string]any)
	if !ok {
		return "", time.Time{}, errMissingSections
	}

	claims := jwt.MapClaims(maps.Clone(config))
	for _, k := range reservedClaims {
		delete(claims, k)
	}
	editor = maps.Clone(editor)
	editor["user"] = editorUser(sub)
	claims["editorConfig"] = editor

	now := a.now()
	exp := now.Add(a.editorTTL)
	claims["iat"] = now.Unix()
	claims["exp"] = exp.Unix()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.editorSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign editor config: %w", err)
	}
	return tok, exp, nil
}

var errMissingSections = fmt.Errorf("%w: editor configuration must include both document and editorConfig sections", apperr.ErrInvalidInput)

func editorUser(sub models.Subject) map[string]any {
	name := sub.Name
	if name == "" {
		name = sub.Username
	}
	if name == "" {
		name = "Authenticated User"
	}
	email := sub.Email
	if email == "" {
		email = "user@example.com"
	}
	return map[string]any{
		"id":    strconv.FormatInt(sub.ID, 10),
		"name":  name,
		"email": email,
	}
}
