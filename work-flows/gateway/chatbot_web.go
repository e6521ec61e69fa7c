package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ferrosa-tutor/work-flows/managers"
	"ferrosa-tutor/work-flows/models"
)

// WebConfig configures the HTTP gateway.
type WebConfig struct {
	Port               string
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
}

type ChatbotWeb struct {
	sessions *managers.SessionManager
	limiter  *sessionLimiter
	config   WebConfig
	logger   *zap.Logger
}

type createSessionRequest struct {
	Model string `json:"model,omitzero"`
}

type createSessionResponse struct {
	SessionID string            `json:"session_id"`
	Model     string            `json:"model"`
	Tabs      []*models.TabSpec `json:"tabs"`
}

type turnRequest struct {
	Message string            `json:"message,omitzero"`
	Fields  map[string]string `json:"fields,omitzero"`
}

type translateRequest struct {
	SessionID string `json:"session_id,omitzero"`
	TabID     string `json:"tab_id,omitzero"`
	Text      string `json:"text,omitzero"`
	Target    string `json:"target,omitzero"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Target      string `json:"target"`
}

func NewChatbotWeb(sessions *managers.SessionManager, config WebConfig, logger *zap.Logger) *ChatbotWeb {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	cw := &ChatbotWeb{
		sessions: sessions,
		limiter:  newSessionLimiter(config.RateLimitPerMinute),
		config:   config,
		logger:   logger.Named("web"),
	}
	sessions.OnSessionRemoved(cw.limiter.Forget)
	return cw
}

// Router builds the HTTP routes.
func (cw *ChatbotWeb) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(cw.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tabs", cw.handleTabs)
		r.Post("/sessions", cw.handleCreateSession)
		r.Post("/translate", cw.handleTranslate)

		r.Route("/sessions/{sessionID}/tabs/{tabID}", func(r chi.Router) {
			r.Get("/", cw.handleTabView)
			r.Post("/turn", cw.handleTurn)
			r.Post("/reset", cw.handleReset)
			r.Get("/export", cw.handleExport)
		})
	})

	return r
}

// StartWebServer serves until ctx is cancelled, then shuts down gracefully.
func (cw *ChatbotWeb) StartWebServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + cw.config.Port,
		Handler:      cw.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE turns stream for as long as the LLM does
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		cw.logger.Info("web server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	cw.logger.Info("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cw.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server forced to shutdown: %w", err)
	}
	return nil
}

func (cw *ChatbotWeb) handleTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cw.sessions.Tabs().All())
}

func (cw *ChatbotWeb) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess := cw.sessions.CreateSession(req.Model)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Model:     sess.Model,
		Tabs:      cw.sessions.Tabs().All(),
	})
}

// handleTabView emits any content pending on arrival, then returns the tab.
func (cw *ChatbotWeb) handleTabView(w http.ResponseWriter, r *http.Request) {
	sessionID, tabID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "tabID")

	if _, err := cw.sessions.OpenTab(r.Context(), sessionID, tabID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	cw.writeTabView(w, sessionID, tabID)
}

func (cw *ChatbotWeb) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID, tabID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "tabID")

	if err := cw.sessions.ResetTab(sessionID, tabID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if _, err := cw.sessions.OpenTab(r.Context(), sessionID, tabID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	cw.writeTabView(w, sessionID, tabID)
}

func (cw *ChatbotWeb) writeTabView(w http.ResponseWriter, sessionID, tabID string) {
	view, err := cw.sessions.TabView(sessionID, tabID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleTurn runs one turn and streams it as server-sent events: "chunk" for
// streamed deltas, "entry" for every appended entry not already streamed,
// then "done" with the turn result or "error".
func (cw *ChatbotWeb) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID, tabID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "tabID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !cw.limiter.Allow(sessionID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	stream := &sseWriter{w: w}
	job := models.JobRequest{Task: "turn", TabID: tabID, UserMessage: req.Message, Fields: req.Fields}

	result, err := cw.sessions.RunTurn(r.Context(), sessionID, job, func(delta string) {
		stream.event("chunk", map[string]string{"content": delta})
	})
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			cw.limiter.Forget(sessionID)
		}
		if !stream.started {
			writeError(w, statusFor(err), err.Error())
			return
		}
		stream.event("error", map[string]string{"error": err.Error()})
		return
	}

	entries := result.Appended
	if result.Streamed && len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}
	for _, entry := range entries {
		stream.event("entry", entry)
	}
	stream.event("done", result)
}

func (cw *ChatbotWeb) handleExport(w http.ResponseWriter, r *http.Request) {
	sessionID, tabID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "tabID")

	filename, doc, err := cw.sessions.Document(sessionID, tabID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, doc.Content); err != nil {
		cw.logger.Warn("failed to write export", zap.Error(err))
	}
}

func (cw *ChatbotWeb) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target := req.Target
	if target == "" {
		target = cw.sessions.TranslateTarget()
	}

	var (
		translation string
		err         error
	)
	switch {
	case req.Text != "":
		translation, err = cw.sessions.Translate(req.Text, target)
	case req.SessionID != "" && req.TabID != "":
		translation, err = cw.sessions.TranslateLast(req.SessionID, req.TabID, target)
	default:
		writeError(w, http.StatusBadRequest, "text or session_id and tab_id are required")
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, translateResponse{Translation: translation, Target: target})
}

func (cw *ChatbotWeb) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			cw.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrTabNotFound), errors.Is(err, models.ErrNoDocument):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrMissingFields):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sseWriter starts the event stream lazily so errors raised before the first
// event can still be answered with a plain status code.
type sseWriter struct {
	w       http.ResponseWriter
	started bool
	failed  bool
}

func (s *sseWriter) event(name string, payload any) {
	if s.failed {
		return
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"error":"failed to serialize event"}`)
		name = "error"
	}
	if err := writeSSE(s.w, name, string(data)); err != nil {
		s.failed = true
		return
	}
	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// sessionLimiter throttles turns per session with a token bucket.
type sessionLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	perMinute int
}

func newSessionLimiter(perMinute int) *sessionLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &sessionLimiter{
		limiters:  make(map[string]*rate.Limiter),
		perMinute: perMinute,
	}
}

func (l *sessionLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *sessionLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
}

func (l *sessionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
