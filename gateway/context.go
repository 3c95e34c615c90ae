// Copyright 2025 FieldLine
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"fieldline/platform/llm"
	"fieldline/platform/shared/logger"
)

// SessionCookie is the interactive session cookie name.
const SessionCookie = "fl_session"

// RoleService is assigned to server-to-server callers.
const RoleService = "service"

// ErrAccountUnresolved means no trust path could produce a tenant. Maps to
// HTTP 400.
var ErrAccountUnresolved = errors.New("account could not be resolved")

// ContextResolver produces an ExecutionContext from an inbound request via
// three mutually exclusive trust paths, in priority order: explicit service
// headers, service-credential plus body tenant, interactive session. The
// ordering lets backend automation bypass cookie auth while staying
// explicitly identified, without opening an unauthenticated path.
type ContextResolver struct {
	db            *sql.DB
	serviceSecret string
	jwtSecret     []byte
	logger        *logger.Logger
}

// NewContextResolver creates a context resolver.
func NewContextResolver(db *sql.DB, serviceSecret, jwtSecret string, log *logger.Logger) *ContextResolver {
	if log == nil {
		log = logger.New("context-resolver")
	}
	return &ContextResolver{
		db:            db,
		serviceSecret: serviceSecret,
		jwtSecret:     []byte(jwtSecret),
		logger:        log,
	}
}

// Resolve builds the ExecutionContext for r. bodyAccountID is the tenant id
// from the request body, consumed only by the service-credential path.
// Returns ErrAccountUnresolved (400) when no path matches and an
// ErrCodeAuth error (401) when a session is presented but invalid.
func (cr *ContextResolver) Resolve(r *http.Request) (*llm.ExecutionContext, error) {
	return cr.ResolveWithAccount(r, "")
}

// ResolveWithAccount is Resolve with the body-supplied tenant id.
func (cr *ContextResolver) ResolveWithAccount(r *http.Request, bodyAccountID string) (*llm.ExecutionContext, error) {
	bearer := bearerToken(r)

	// Path 1: explicit service headers.
	userID := r.Header.Get("X-User-ID")
	accountID := r.Header.Get("X-Account-ID")
	if userID != "" && accountID != "" {
		role := r.Header.Get("X-User-Role")
		if role == "" {
			role = RoleService
		}
		return &llm.ExecutionContext{
			UserID:              userID,
			AccountID:           accountID,
			Role:                role,
			ForwardedCredential: bearer,
		}, nil
	}

	// Path 2: service credential plus body tenant.
	if bearer != "" && cr.serviceSecret != "" &&
		subtle.ConstantTimeCompare([]byte(bearer), []byte(cr.serviceSecret)) == 1 {
		if bodyAccountID == "" {
			return nil, ErrAccountUnresolved
		}
		return &llm.ExecutionContext{
			UserID:    RoleService,
			AccountID: bodyAccountID,
			Role:      RoleService,
		}, nil
	}

	// Path 3: interactive session.
	token := sessionToken(r, bearer)
	if token == "" {
		return nil, ErrAccountUnresolved
	}
	return cr.resolveSession(r, token)
}

// resolveSession validates the session JWT and loads the caller's tenant
// and role from the user record.
func (cr *ContextResolver) resolveSession(r *http.Request, token string) (*llm.ExecutionContext, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return cr.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, llm.NewError(llm.ErrCodeAuth, "invalid or expired session", err)
	}

	userID, err := claims.GetSubject()
	if err != nil || userID == "" {
		return nil, llm.Errorf(llm.ErrCodeAuth, "session carries no subject")
	}

	var accountID, role string
	var permissions []string
	query := `SELECT account_id, role FROM users WHERE id = $1 AND active = TRUE`
	if err := cr.db.QueryRowContext(r.Context(), query, userID).Scan(&accountID, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, llm.Errorf(llm.ErrCodeAuth, "unknown or inactive user")
		}
		return nil, llm.NewError(llm.ErrCodeAuth, "user lookup failed", err)
	}
	if perms, ok := claims["permissions"].([]interface{}); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				permissions = append(permissions, s)
			}
		}
	}

	return &llm.ExecutionContext{
		UserID:              userID,
		AccountID:           accountID,
		Role:                role,
		Permissions:         permissions,
		ForwardedCredential: token,
	}, nil
}

// bearerToken extracts the Authorization bearer value, if any.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// sessionToken prefers the session cookie, falling back to the bearer
// token.
func sessionToken(r *http.Request, bearer string) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearer
}
