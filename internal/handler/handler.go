package handler

import (
	"encoding/json"
	"html/template"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	mid "github.com/aiengrshafiq/QuickBooksImporter/internal/middleware"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/token"
	authpkg "github.com/aiengrshafiq/QuickBooksImporter/pkg/auth"
)

// Deps groups what the connect routes need.
type Deps struct {
	OAuth     *oauth2.Config
	Client    *http.Client
	States    authpkg.States
	Store     token.Store
	StoreName string
	Templates *template.Template
	Log       *logrus.Entry
}

// Handler serves the OAuth bootstrap routes.
type Handler struct {
	Deps

	once      sync.Once
	connected chan token.Credential
}

// New builds the handler. Connected fires once, after the first credential is saved.
func New(d Deps) *Handler {
	return &Handler{Deps: d, connected: make(chan token.Credential, 1)}
}

// Router mounts /health, /connect and /callback.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(mid.RequestLogger(h.Log))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.health)
	r.Get("/connect", h.connect)
	r.Get("/callback", h.callback)
	return r
}

// Connected delivers the saved credential once.
func (h *Handler) Connected() <-chan token.Credential {
	return h.connected
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.Templates.ExecuteTemplate(w, name, data); err != nil {
		h.Log.WithError(err).WithField("template", name).Error("render failed")
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	h.render(w, status, "error.html", map[string]any{"Title": "Connection failed", "Message": msg})
}
