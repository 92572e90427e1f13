// ABOUTME: Session token decoding for the chat client (user id, client id, entitlements)
// ABOUTME: Parses HS256 JWTs, verifying the signature only when a secret is configured

package identity

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Subscription is one entitlement ("abonnement") carried by the token.
type Subscription struct {
	Reference string `json:"reference"`
	Label     string `json:"libelle,omitempty"`
	Address   string `json:"adresse,omitempty"`
}

// Claims is the payload of a session token.
type Claims struct {
	UserID           int64          `json:"user_id"`
	ClientID         string         `json:"client_id"`
	LastName         string         `json:"nom,omitempty"`
	FirstName        string         `json:"prenom,omitempty"`
	CertifiedAccount bool           `json:"certified_account,omitempty"`
	LLMUUID          string         `json:"uuid_llm,omitempty"`
	PhotoProfile     string         `json:"photoProfil,omitempty"`
	Subscriptions    []Subscription `json:"abonnements,omitempty"`
	jwt.RegisteredClaims
}

// Session is a decoded session token together with its raw form.
type Session struct {
	Claims
	Raw string
}

// Topic returns the broker topic this session receives messages on.
func (s *Session) Topic() string {
	return "user-" + strconv.FormatInt(s.UserID, 10) + "-messages"
}

// BearerHeader returns the Authorization header value for backend calls.
func (s *Session) BearerHeader() string {
	return "Bearer " + s.Raw
}

// From returns the sender identity placed in outbound envelopes.
func (s *Session) From() string {
	return strconv.FormatInt(s.UserID, 10)
}

// DisplayName returns "Prenom Nom", falling back to the client id.
func (s *Session) DisplayName() string {
	switch {
	case s.FirstName != "" && s.LastName != "":
		return s.FirstName + " " + s.LastName
	case s.FirstName != "":
		return s.FirstName
	case s.LastName != "":
		return s.LastName
	default:
		return s.ClientID
	}
}

// Decoder turns raw session tokens into Sessions.
type Decoder struct {
	secret []byte
	parser *jwt.Parser
}

// NewDecoder creates a decoder. With an empty secret the signature is not
// checked: the token was issued to this client over an authenticated
// channel and the backend verifies it on every call anyway.
func NewDecoder(secret []byte) *Decoder {
	return &Decoder{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Decode parses raw and returns the session it describes.
func (d *Decoder) Decode(raw string) (*Session, error) {
	claims := &Claims{}

	if len(d.secret) == 0 {
		if _, _, err := d.parser.ParseUnverified(raw, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			return nil, ErrExpiredToken
		}
	} else {
		token, err := d.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
			return d.secret, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, ErrExpiredToken
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !token.Valid {
			return nil, ErrInvalidToken
		}
	}

	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id", ErrMissingClaim)
	}

	return &Session{Claims: *claims, Raw: raw}, nil
}

// Sign mints a token for claims. Used by tests and the local token command.
func Sign(secret []byte, claims Claims, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if expiresIn > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiresIn))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
