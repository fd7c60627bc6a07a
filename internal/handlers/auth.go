package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

// SessionTokenHandler issues and verifies session tokens. A token names a
// session; it does not authenticate a person.
type SessionTokenHandler struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewSessionTokenHandler constructs a SessionTokenHandler. A non-positive
// ttl falls back to 24 hours.
func NewSessionTokenHandler(secret string, ttl time.Duration) *SessionTokenHandler {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &SessionTokenHandler{
		secret:   []byte(secret),
		tokenTTL: ttl,
	}
}

// SessionTokenRouter registers token routes on the given router.
func SessionTokenRouter(r chi.Router, h *SessionTokenHandler) {
	r.Post("/", h.CreateSession)
}

// CreateSession starts a new session and returns its token.
func (h *SessionTokenHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := newSessionID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	token, err := issueToken(sessionID, h.secret, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusCreated, SessionTokenResponse{Token: token, SessionID: sessionID})
}

// RequireSession enforces a valid session token and injects the session
// id into the request context.
func (h *SessionTokenHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session token required")
			return
		}

		sessionID, err := parseTokenSubject(tokenString, h.secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		ctx := context.WithValue(r.Context(), contextSessionKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SessionTokenResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

func issueToken(sessionID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
