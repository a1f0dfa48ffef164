package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmcleod/bastion/internal/util"
	"github.com/jmcleod/bastion/signing"
	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/token"
)

type contextKey int

const (
	tokenRowKey contextKey = iota
	serviceClaimsKey
)

const maxServiceBody = 1 << 20

// TokenAuth authenticates a client-bearing token of the given kind from
// the Authorization header and stores its row on the request context.
// All failures present as the same invalid-token response.
func (a *API) TokenAuth(kind token.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			row, err := a.authenticate(r, kind)
			if err != nil {
				writeInvalidToken(w)
				return
			}
			if kind == token.KindSession {
				if err := a.manager.Touch(r.Context(), row); err != nil {
					a.log.Warn("bumping session last-access failed", "error", err)
				}
			}
			ctx := context.WithValue(r.Context(), tokenRowKey, row)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *API) authenticate(r *http.Request, kind token.Kind) (*storage.Row, error) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		a.logAuthFailure(r, kind, "missing bearer token")
		return nil, token.ErrInvalidToken
	}

	id, authKey, err := token.ParseClientToken(strings.TrimSpace(strings.TrimPrefix(auth, prefix)))
	if err != nil {
		a.logAuthFailure(r, kind, "malformed token string")
		return nil, token.ErrInvalidToken
	}

	row, err := a.store.Fetch(r.Context(), kind, util.HexEncode(id))
	if err != nil {
		a.logAuthFailure(r, kind, "unknown token")
		return nil, token.ErrInvalidToken
	}
	if !hmac.Equal(row.AuthKey, authKey) {
		a.logAuthFailure(r, kind, "auth key mismatch")
		return nil, token.ErrInvalidToken
	}
	if row.Expired(a.now().UnixMilli()) {
		a.logAuthFailure(r, kind, "expired token")
		if derr := a.store.Delete(r.Context(), kind, row.ID); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			a.log.Warn("deleting expired token failed", "error", derr)
		}
		return nil, token.ErrInvalidToken
	}
	return row, nil
}

func (a *API) logAuthFailure(r *http.Request, kind token.Kind, cause string) {
	a.log.Info("token authentication failed",
		"kind", string(kind),
		"cause", cause,
		"remote_addr", r.RemoteAddr,
		"path", r.URL.Path)
}

// ServiceAuth authenticates a service-signed request and stores the
// verified claims on the request context.
func (a *API) ServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxServiceBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		claims, err := a.verifier.VerifyRequest(r.Context(), r, body)
		if err != nil {
			a.log.Info("service authentication failed",
				"cause", err.Error(),
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), serviceClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenRowFromContext(ctx context.Context) (*storage.Row, error) {
	row, ok := ctx.Value(tokenRowKey).(*storage.Row)
	if !ok {
		return nil, fmt.Errorf("no authenticated token on context")
	}
	return row, nil
}

func serviceClaimsFromContext(ctx context.Context) *signing.Claims {
	claims, _ := ctx.Value(serviceClaimsKey).(*signing.Claims)
	return claims
}
