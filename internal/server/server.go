package server

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config wires the server's collaborators together. Handlers are methods
// on Config so they can reach the database, the object store and the
// session layer without package-level state.
type Config struct {
	Addr   string // e.g. ":8080"
	Auth   AuthConfig
	DB     *sql.DB
	Store  objectStorage
	Logger zerolog.Logger
}

type Server struct {
	httpServer *http.Server
}

func New(cfg Config) *Server {
	mux := http.NewServeMux()

	mux.Handle("/", healthHandler())
	mux.Handle("/metrics", promhttp.Handler())

	// Session endpoints
	mux.Handle("/login", cfg.Auth.loginHandler())
	mux.Handle("/check-login", cfg.Auth.checkLoginHandler())
	mux.Handle("/logout", cfg.Auth.logoutHandler())

	// Exam endpoints
	mux.Handle("/upload/exam", cfg.Auth.requireAuth(cfg.uploadExamHandler(cfg.DB, cfg.Store)))
	mux.Handle("/search/exam", cfg.Auth.requireAuth(cfg.searchExamsHandler(cfg.DB)))
	mux.Handle("/download/exam", cfg.Auth.requireAuth(cfg.downloadExamHandler(cfg.DB, cfg.Store)))

	// Diagnosis endpoints
	mux.Handle("/upload/diagnosis", cfg.Auth.requireAuth(cfg.uploadDiagnosisHandler(cfg.DB, cfg.Store)))
	mux.Handle("/search/diagnosis", cfg.Auth.requireAuth(cfg.searchDiagnosesHandler(cfg.DB)))
	mux.Handle("/download/diagnosis", cfg.Auth.requireAuth(cfg.downloadDiagnosisHandler(cfg.DB, cfg.Store)))

	// Wrap middleware: requestID -> logging -> metrics -> mux
	var handler http.Handler = mux
	handler = metricsMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{httpServer: s}
}

// healthHandler answers GET / with the generic liveness envelope.
// ServeMux routes every unmatched path to "/", so anything else is a 404.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		if apiErr := checkMethod(r, http.MethodGet); apiErr != nil {
			apiErr.write(w)
			return
		}
		respondSuccess(w, "all systems normal", nil)
	})
}

// Handler exposes the fully wired HTTP handler, used by tests to serve
// the API under httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
