// Copyright 2025 Longopass
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
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the caller resolved from a request. A zero Identity is a
// guest caller.
type Identity struct {
	UserID string
	Plan   string
}

// resolveIdentity extracts the caller identity from a request.
// A Bearer token wins over the X-User-Id / X-User-Plan headers so that
// clients cannot spoof a plan once tokens are issued. Invalid tokens
// fall back to the headers rather than rejecting the request: the
// gateway serves anonymous traffic too.
func resolveIdentity(r *http.Request, jwtSecret string) Identity {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") && jwtSecret != "" {
		raw := strings.TrimPrefix(auth, "Bearer ")
		if id, err := parseToken(raw, jwtSecret); err == nil {
			return id
		}
	}

	return Identity{
		UserID: r.Header.Get("X-User-Id"),
		Plan:   strings.ToLower(r.Header.Get("X-User-Plan")),
	}
}

func parseToken(raw, secret string) (Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token claims")
	}

	id := Identity{}
	if v, ok := claims["user_id"].(string); ok {
		id.UserID = v
	}
	if v, ok := claims["plan"].(string); ok {
		id.Plan = strings.ToLower(v)
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("token missing user_id claim")
	}
	return id, nil
}
