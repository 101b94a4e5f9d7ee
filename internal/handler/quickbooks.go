package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/token"
	authpkg "github.com/aiengrshafiq/QuickBooksImporter/pkg/auth"
	"github.com/aiengrshafiq/QuickBooksImporter/pkg/quickbooks"
)

// connect redirects to the Intuit authorize URL with a fresh state.
func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	state, err := h.States.Issue()
	if err != nil {
		h.Log.WithError(err).Error("issue oauth state")
		h.fail(w, http.StatusInternalServerError, "Could not start the authorization.")
		return
	}
	http.Redirect(w, r, quickbooks.BuildAuthURL(h.OAuth, state), http.StatusFound)
}

// callback exchanges the code and saves the credential with its realm.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.Log.WithField("error", e).Warn("authorization declined")
		h.fail(w, http.StatusBadRequest, "Authorization was declined: "+e)
		return
	}

	if err := h.States.Consume(q.Get("state")); err != nil {
		h.Log.WithError(err).Warn("oauth state rejected")
		if errors.Is(err, authpkg.ErrInvalidState) {
			h.fail(w, http.StatusBadRequest, "The authorization link is invalid or has expired.")
		} else {
			h.fail(w, http.StatusInternalServerError, "Could not verify the authorization.")
		}
		return
	}

	code, realmID := q.Get("code"), q.Get("realmId")
	if code == "" || realmID == "" {
		h.fail(w, http.StatusBadRequest, "The callback is missing code or realmId.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	tok, err := quickbooks.ExchangeCode(ctx, h.Client, h.OAuth, code)
	if err != nil {
		h.Log.WithError(err).Error("code exchange")
		h.fail(w, http.StatusBadGateway, "QuickBooks did not accept the authorization code.")
		return
	}

	cred := token.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		RealmID:      realmID,
		ExpiresAt:    tok.Expiry,
	}
	if err := h.Store.SaveCredential(ctx, cred); err != nil {
		h.Log.WithError(err).Error("save credential")
		h.fail(w, http.StatusInternalServerError, "The credential could not be saved.")
		return
	}
	h.Log.WithField("realm_id", realmID).Info("quickbooks connected")

	h.render(w, http.StatusOK, "connected.html", map[string]any{
		"Title":     "QuickBooks connected",
		"RealmID":   realmID,
		"Store":     h.StoreName,
		"ExpiresAt": cred.ExpiresAt,
	})
	h.once.Do(func() { h.connected <- cred })
}
