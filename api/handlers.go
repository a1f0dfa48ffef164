package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/jmcleod/bastion/internal/util"
	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/token"
)

const (
	accountKeyLength = 32
	forgotCodeBytes  = 8
	forgotTries      = 3
	keysBundleInfo   = "account/keys"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// issueTokens mints the session, key-fetch, and session-revoke tokens
// for an account and persists their rows. The revoke row records the
// session and key-fetch IDs so revocation can tear down all three.
func (a *API) issueTokens(r *http.Request, acct *storage.Account) (*TokenBundleResponse, error) {
	ctx := r.Context()
	details := token.Details{UID: acct.UID}

	session, err := a.factory.New(ctx, token.KindSession, details)
	if err != nil {
		return nil, err
	}
	keyFetch, err := a.factory.New(ctx, token.KindKeyFetch, details)
	if err != nil {
		return nil, err
	}
	revoke, err := a.factory.New(ctx, token.KindSessionRevoke, details)
	if err != nil {
		return nil, err
	}

	sessionRow, err := storage.NewRow(session, &token.SessionMeta{
		UserAgent:    r.UserAgent(),
		LastAccessAt: session.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	keyFetchRow, err := storage.NewRow(keyFetch, &token.KeyFetchMeta{
		KA:     acct.KA,
		WrapKB: acct.WrapWrapKB,
	})
	if err != nil {
		return nil, err
	}
	revokeRow, err := storage.NewRow(revoke, &token.RevokeMeta{
		SessionID:  session.HexID(),
		KeyFetchID: keyFetch.HexID(),
	})
	if err != nil {
		return nil, err
	}

	for _, row := range []*storage.Row{sessionRow, keyFetchRow, revokeRow} {
		if err := a.store.Create(ctx, row); err != nil {
			return nil, err
		}
	}

	return &TokenBundleResponse{
		UID:           acct.UID,
		SessionToken:  session.ClientToken(),
		KeyFetchToken: keyFetch.ClientToken(),
		RevokeToken:   revoke.ClientToken(),
	}, nil
}

func (a *API) handleAccountCreate(w http.ResponseWriter, r *http.Request) {
	var req AccountCredentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	email := util.NormalizeEmail(req.Email)
	authPW, err := util.HexDecode(req.AuthPW)
	if err != nil || email == "" || len(authPW) == 0 {
		writeError(w, http.StatusBadRequest, "invalid credentials format")
		return
	}

	verifyHash, err := a.factory.StretchPassword(r.Context(), authPW, email)
	if err != nil {
		a.mapError(w, err)
		return
	}
	ka, err := util.RandomBytes(accountKeyLength)
	if err != nil {
		a.mapError(w, err)
		return
	}
	wrapWrapKB, err := util.RandomBytes(accountKeyLength)
	if err != nil {
		a.mapError(w, err)
		return
	}

	acct := &storage.Account{
		UID:        uuid.NewString(),
		Email:      email,
		VerifyHash: verifyHash,
		KA:         ka,
		WrapWrapKB: wrapWrapKB,
		CreatedAt:  a.now().UnixMilli(),
	}
	if err := a.store.CreateAccount(r.Context(), acct); err != nil {
		a.mapError(w, err)
		return
	}
	a.log.Info("account created", "uid", acct.UID)

	resp, err := a.issueTokens(r, acct)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleAccountLogin(w http.ResponseWriter, r *http.Request) {
	var req AccountCredentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	email := util.NormalizeEmail(req.Email)
	authPW, err := util.HexDecode(req.AuthPW)
	if err != nil || email == "" || len(authPW) == 0 {
		writeError(w, http.StatusBadRequest, "invalid credentials format")
		return
	}

	acct, err := a.store.AccountByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			// Same response as a wrong password so that login cannot be
			// used to probe for registered addresses.
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		a.mapError(w, err)
		return
	}

	verifyHash, err := a.factory.StretchPassword(r.Context(), authPW, email)
	if err != nil {
		a.mapError(w, err)
		return
	}
	if subtle.ConstantTimeCompare(verifyHash, acct.VerifyHash) != 1 {
		a.log.Info("login rejected", "uid", acct.UID)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	resp, err := a.issueTokens(r, acct)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAccountKeys serves the account key material, sealed under the
// key-fetch token's bundle key. The token is single use: the row is
// consumed before the bundle is returned.
func (a *API) handleAccountKeys(w http.ResponseWriter, r *http.Request) {
	row, err := tokenRowFromContext(r.Context())
	if err != nil {
		writeInvalidToken(w)
		return
	}

	var meta token.KeyFetchMeta
	if err := row.Meta(&meta); err != nil {
		a.mapError(w, err)
		return
	}

	payload := make([]byte, 0, len(meta.KA)+len(meta.WrapKB))
	payload = append(payload, meta.KA...)
	payload = append(payload, meta.WrapKB...)
	blob, err := token.Bundle(row.BundleKey, keysBundleInfo, payload)
	if err != nil {
		a.mapError(w, err)
		return
	}

	if err := a.store.Delete(r.Context(), token.KindKeyFetch, row.ID); err != nil {
		a.mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &AccountKeysResponse{Bundle: util.HexEncode(blob)})
}

func (a *API) handleSessionDestroy(w http.ResponseWriter, r *http.Request) {
	row, err := tokenRowFromContext(r.Context())
	if err != nil {
		writeInvalidToken(w)
		return
	}
	if err := a.manager.DestroySession(r.Context(), row.ID); err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (a *API) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	row, err := tokenRowFromContext(r.Context())
	if err != nil {
		writeInvalidToken(w)
		return
	}
	if err := a.manager.RevokeSession(r.Context(), row.ID); err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (a *API) handleForgotSendCode(w http.ResponseWriter, r *http.Request) {
	var req ForgotSendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	email := util.NormalizeEmail(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}

	acct, err := a.store.AccountByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			writeError(w, http.StatusBadRequest, "unknown account")
			return
		}
		a.mapError(w, err)
		return
	}

	forgot, err := a.factory.New(r.Context(), token.KindPasswordForgot, token.Details{UID: acct.UID})
	if err != nil {
		a.mapError(w, err)
		return
	}
	code, err := util.RandomHex(forgotCodeBytes)
	if err != nil {
		a.mapError(w, err)
		return
	}
	row, err := storage.NewRow(forgot, &token.ForgotMeta{
		Email:     email,
		PassCode:  code,
		TriesLeft: forgotTries,
	})
	if err != nil {
		a.mapError(w, err)
		return
	}
	if err := a.store.Create(r.Context(), row); err != nil {
		a.mapError(w, err)
		return
	}
	a.log.Info("forgot code issued", "uid", acct.UID)

	resp := &ForgotSendResponse{
		PasswordForgotToken: forgot.ClientToken(),
		TTL:                 forgot.TTL(a.now().UnixMilli()),
		CodeLength:          2 * forgotCodeBytes,
		Tries:               forgotTries,
	}
	// No mailer outside production; the code is handed back so test
	// clients can complete the flow.
	if !a.cfg.IsProduction {
		resp.Code = code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleForgotVerifyCode(w http.ResponseWriter, r *http.Request) {
	row, err := tokenRowFromContext(r.Context())
	if err != nil {
		writeInvalidToken(w)
		return
	}
	var req ForgotVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	consumed, err := a.manager.CheckForgotCode(r.Context(), row.ID, req.Code)
	if err != nil {
		a.mapError(w, err)
		return
	}

	reset, err := a.factory.New(r.Context(), token.KindAccountReset, token.Details{UID: consumed.UID})
	if err != nil {
		a.mapError(w, err)
		return
	}
	resetRow, err := storage.NewRow(reset, nil)
	if err != nil {
		a.mapError(w, err)
		return
	}
	if err := a.store.Create(r.Context(), resetRow); err != nil {
		a.mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &ForgotVerifyResponse{AccountResetToken: reset.ClientToken()})
}

func (a *API) handlePrune(w http.ResponseWriter, r *http.Request) {
	claims := serviceClaimsFromContext(r.Context())
	if claims != nil {
		a.log.Info("prune requested", "issuer", claims.Iss)
	}
	pruned, err := a.manager.PruneExpired(r.Context())
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &PruneResponse{Pruned: pruned})
}
