package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/winzerprince/oc-tutor/internal/app"
	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chat"
)

const maxUpload = 64 << 20

type Server struct {
	Store *app.Store
	Tutor *app.Tutor
	locks courseLocks
}

func New(store *app.Store, tutor *app.Tutor) *Server {
	return &Server{Store: store, Tutor: tutor}
}

// courseLocks serializes builds and quiz turns per course.
type courseLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *courseLocks) lock(course string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	m, ok := l.m[course]
	if !ok {
		m = &sync.Mutex{}
		l.m[course] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload-pdf", s.handleUpload)
		r.Post("/semantic-chat", s.handleChat)
		r.Get("/courses", s.handleCourses)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", "http://"+addr).Info("oc-tutor server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"took":       time.Since(start).Round(time.Millisecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.Store.ListCourses()
	if err != nil {
		log.WithError(err).Error("list courses")
		writeError(w, http.StatusInternalServerError, "Failed to list course folders.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	course := strings.TrimSpace(r.FormValue("course"))
	if course == "" {
		writeError(w, http.StatusBadRequest, "Course name is required.")
		return
	}
	if err := app.ValidName(course); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	unlock := s.locks.lock(course)
	defer unlock()

	if _, err := s.Store.AddSource(course, file); err != nil {
		log.WithError(err).WithField("course", course).Error("store upload")
		writeError(w, http.StatusInternalServerError, "Failed to process and index PDF.")
		return
	}
	n, err := s.Store.BuildCourse(r.Context(), course)
	if err != nil {
		log.WithError(err).WithField("course", course).Error("build course")
		status := http.StatusInternalServerError
		if apperr.Skippable(err) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "Failed to process and index PDF.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "PDF parsed and indexed successfully.", "chunks": n})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req app.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	course := strings.TrimSpace(req.Course)
	if course == "" {
		course = s.Tutor.DefaultCourse
	}
	unlock := s.locks.lock(course)
	defer unlock()

	resp, err := s.Tutor.Handle(r.Context(), req)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidArguments) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, apperr.ErrCollaboratorUnavailable) {
			log.WithError(err).WithField("course", course).Error("no model could answer")
			writeError(w, http.StatusServiceUnavailable, chat.Apology)
			return
		}
		log.WithError(err).WithField("course", course).Error("semantic chat")
		writeError(w, http.StatusInternalServerError, "Failed to process semantic chat.")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
