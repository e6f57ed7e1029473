// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package web serves catalog search and study packages over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/studyvault/catalog"
	"storj.io/studyvault/packager"
)

var (
	mon = monkit.Package()

	// Error is the default web errs class.
	Error = errs.Class("web")
)

// Config configures the HTTP server.
type Config struct {
	Address         string        `help:"address to listen on for http requests" default:"127.0.0.1:8080"`
	ShutdownTimeout time.Duration `help:"time allowed for requests to finish on shutdown" default:"10s"`
}

// Server implements the HTTP API.
type Server struct {
	log      *zap.Logger
	db       catalog.DB
	packages *packager.Cache
	config   Config

	listener net.Listener
	server   http.Server
}

// NewServer creates a new server answering on listener.
func NewServer(log *zap.Logger, listener net.Listener, db catalog.DB, packages *packager.Cache, config Config) *Server {
	s := &Server{
		log:      log,
		db:       db,
		packages: packages,
		config:   config,
		listener: listener,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/search", s.HandleSearch).Methods(http.MethodGet)
	router.HandleFunc("/package", s.HandlePackage).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/studies/{study}/package", s.HandlePackage).Methods(http.MethodGet, http.MethodHead)

	s.server = http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(log),
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves requests until ctx is canceled.
func (s *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancelShutdown()
		return Error.Wrap(s.server.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		defer cancel()
		s.log.Info("serving", zap.Stringer("address", s.listener.Addr()))
		err := s.server.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// HandleHealth reports that the server is up.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSearch returns the studies of the patients matching the query.
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	query := catalog.Query{
		Name:      params.Get("name"),
		BirthDate: params.Get("dob"),
		Sex:       params.Get("sex"),
	}
	if query.Name == "" || query.BirthDate == "" {
		s.errorResponse(w, badRequest("name and dob are required"))
		return
	}
	if year := params.Get("year"); year != "" {
		n, err := strconv.Atoi(year)
		if err != nil || n < 1 || n > 9999 {
			s.errorResponse(w, badRequest("year must be a number between 1 and 9999"))
			return
		}
		query.Year = n
	}

	summaries, err := s.db.Search(ctx, query)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if summaries == nil {
		summaries = []catalog.StudySummary{}
	}

	s.jsonResponse(w, http.StatusOK, summaries)
}

// HandlePackage serves the package of a study, building it when needed.
func (s *Server) HandlePackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	study := mux.Vars(r)["study"]
	if study == "" {
		study = r.URL.Query().Get("study_uid")
	}
	if study == "" {
		s.errorResponse(w, badRequest("study_uid is required"))
		return
	}
	if err := packager.ValidateKey(study); err != nil {
		s.errorResponse(w, badRequest(err.Error()))
		return
	}

	files, err := s.db.StudyFiles(ctx, study)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if len(files) == 0 {
		s.errorResponse(w, notFound("study not found"))
		return
	}

	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}

	pkg, err := s.packages.BuildOrFetch(ctx, study, packager.StudyMembers(paths))
	if err != nil {
		if ctx.Err() != nil {
			s.log.Debug("package request canceled", zap.String("study", study))
			return
		}
		s.errorResponse(w, err)
		return
	}

	file, err := os.Open(pkg.Path)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	defer func() { _ = file.Close() }()

	w.Header().Set("Content-Type", pkg.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": pkg.Filename}))
	http.ServeContent(w, r, pkg.Filename, pkg.ModTime, file)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, body interface{}) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(jsonBytes)
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	var e *ErrorResponse
	if !errors.As(err, &e) {
		switch {
		case packager.ErrInvalidKey.Has(err):
			e = badRequest(err.Error())
		case packager.ErrNoMembers.Has(err), catalog.ErrNotFound.Has(err):
			e = ErrNotFound
		case packager.ErrClosed.Has(err), errors.Is(err, context.Canceled):
			e = ErrUnavailable
		default:
			e = ErrInternalError
		}
	}

	if e.StatusCode >= http.StatusInternalServerError {
		s.log.Error("error during API request", zap.Error(err))
	} else {
		s.log.Debug("rejected API request", zap.Error(err))
	}

	resp, _ := json.Marshal(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(resp)
}
