package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"assessment-session-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// StudentHeader carries the student identity on every session request.
const StudentHeader = "X-Student-ID"

// Handler exposes the assessment use cases over REST and websockets.
type Handler struct {
	service  *app.AssessmentService
	validate *validator.Validate
	logger   *slog.Logger
	checks   map[string]Checker
	upgrader websocket.Upgrader
}

func NewHandler(service *app.AssessmentService, logger *slog.Logger, checks map[string]Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		checks:   checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the router with request id, real ip, structured logging and
// panic recovery middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Post("/proceed", h.proceedSession)
			r.Post("/start", h.startSession)
			r.Post("/submit", h.submitSession)
			r.Delete("/", h.abandonSession)
		})
	})
	r.Get("/ws/sessions/{sessionID}", h.ServeWS)
	return r
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// studentID reads the identity header; websocket clients may pass it as a query parameter.
func studentID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(StudentHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("studentId"))
}

// authorized resolves the session of the URL for the calling student.
func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) (*app.Session, bool) {
	session, err := h.service.Authorize(chi.URLParam(r, "sessionID"), studentID(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return session, true
}
