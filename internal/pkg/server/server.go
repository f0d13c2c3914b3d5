// Package server exposes the panel over HTTP: status, the control catalogue, command
// routes and a websocket status stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/controls"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
	"github.com/anicoll/scalemodel-panel/pkg/sockets"
)

var errJournalOff = errors.New("journal disabled")

type statusService interface {
	Status() model.Status
	Subscribe() (<-chan model.Status, func())
}

type commandService interface {
	Send(ctx context.Context, cmd model.Command) error
}

type journalService interface {
	Recent(ctx context.Context, limit int) ([]model.JournalEntry, error)
}

type Option func(*server)

type server struct {
	status    statusService
	commands  commandService
	catalogue *controls.Catalogue
	journal   journalService
	auth      *authenticator
	hub       *sockets.Hub
	doc       *openapi3.T
	logger    *zap.Logger
}

// WithJournal enables GET /api/journal.
func WithJournal(j journalService) Option {
	return func(s *server) {
		s.journal = j
	}
}

// WithAuth guards the command routes with tokens issued against passwordHash.
func WithAuth(passwordHash string, secret []byte, ttl time.Duration) Option {
	return func(s *server) {
		s.auth = &authenticator{hash: passwordHash, secret: secret, ttl: ttl, now: time.Now}
	}
}

func WithServerLogger(l *zap.Logger) Option {
	return func(s *server) {
		s.logger = l
	}
}

func New(ctx context.Context, status statusService, commands commandService, catalogue *controls.Catalogue, opts ...Option) (*server, error) {
	doc, err := loadSpec(ctx)
	if err != nil {
		return nil, err
	}
	s := &server{
		status:    status,
		commands:  commands,
		catalogue: catalogue,
		doc:       doc,
		logger:    zap.L(),
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = sockets.NewHub(
		sockets.WithHubLogger(s.logger),
		sockets.WithKeepAlive(30*time.Second),
		sockets.WithWriteTimeout(10*time.Second),
		sockets.WithGreeting(func() ([]byte, error) {
			return json.Marshal(s.status.Status())
		}),
	)
	return s, nil
}

func (s *server) Handler() (http.Handler, error) {
	validator, err := ValidationMiddleware(s.doc)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	r.Use(validator)

	r.Get("/api/openapi.yaml", s.getOpenAPI)
	r.Post("/api/login", s.postLogin)
	r.Get("/api/status", s.getStatus)
	r.Get("/api/controls", s.getControls)
	r.Get("/api/journal", s.getJournal)
	r.Get("/ws/status", s.hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.middleware)
		r.Post("/api/commands", s.postCommand)
		r.Post("/api/buttons/{id}", s.postButton)
		r.Post("/api/buttons/{id}/items/{item}", s.postItem)
		r.Post("/api/wings/{wing}/select", s.postWing(s.catalogue.WingSelect))
		r.Post("/api/wings/{wing}/click", s.postWing(s.catalogue.WingClick))
	})
	return r, nil
}

// StreamStatus pushes every status change to the websocket clients until ctx ends.
func (s *server) StreamStatus(ctx context.Context) error {
	updates, unsubscribe := s.status.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case status, ok := <-updates:
			if !ok {
				return nil
			}
			body, err := json.Marshal(status)
			if err != nil {
				return err
			}
			s.hub.Broadcast(body)
		}
	}
}

// Close drops every websocket client.
func (s *server) Close() {
	s.hub.Close()
}

func (s *server) getOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(apiSpec)
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *server) postLogin(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[loginRequest](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, expires, err := s.auth.issue(req.Password)
	if err != nil {
		s.logger.Warn("login refused", zap.Error(err))
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires.UTC()})
}

func (s *server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *server) getControls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalogue)
}

func (s *server) getJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		handleError(w, errJournalOff)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) postCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := unmarshalPayload[model.Command](r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.send(w, r, *cmd)
}

func (s *server) postButton(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.catalogue.Button(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	s.send(w, r, cmd)
}

func (s *server) postItem(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.catalogue.SubItem(chi.URLParam(r, "id"), chi.URLParam(r, "item"))
	if err != nil {
		handleError(w, err)
		return
	}
	s.send(w, r, cmd)
}

func (s *server) postWing(resolve func(string) (model.Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, err := resolve(chi.URLParam(r, "wing"))
		if err != nil {
			handleError(w, err)
			return
		}
		s.send(w, r, cmd)
	}
}

func (s *server) send(w http.ResponseWriter, r *http.Request, cmd model.Command) {
	if err := s.commands.Send(r.Context(), cmd); err != nil {
		handleError(w, err)
		return
	}
	s.logger.Info("command accepted", zap.Stringer("type", cmd.Type), zap.String("item", cmd.Item), zap.String("wing", cmd.Wing))
	writeJSON(w, http.StatusAccepted, cmd)
}

func handleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidCommand), errors.Is(err, controls.ErrNeedsItem):
		status = http.StatusBadRequest
	case errors.Is(err, controls.ErrUnknownControl), errors.Is(err, errJournalOff), errors.Is(err, errAuthOff):
		status = http.StatusNotFound
	case errors.Is(err, errBadPassword):
		status = http.StatusUnauthorized
	case errors.Is(err, channel.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		handleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
