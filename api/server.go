// Package api exposes the insights service over JSON HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/insights"
	"github.com/preceeder/go.insights/queryfield"
)

type Server struct {
	addr    string
	service *insights.Service
}

func NewServer(addr string, service *insights.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Handler is the routed and logged handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	apiRoute := router.PathPrefix("/api").Subrouter()
	apiRoute.HandleFunc("/health", s.health).Methods("GET")

	sourceRoute := apiRoute.PathPrefix("/data-sources/{source}").Subrouter()
	sourceRoute.HandleFunc("/test", s.testConnection).Methods("POST")
	sourceRoute.HandleFunc("/tables", s.tables).Methods("GET")
	sourceRoute.HandleFunc("/tables/{table}/columns", s.columns).Methods("GET")
	sourceRoute.HandleFunc("/query-fields/render", s.renderField).Methods("POST")
	sourceRoute.HandleFunc("/query-fields", s.saveField).Methods("POST")

	apiRoute.HandleFunc("/query-fields", s.listFields).Methods("GET")
	apiRoute.HandleFunc("/query-fields", s.deleteField).Methods("DELETE")

	apiRoute.HandleFunc("/queries", s.saveQuery).Methods("POST")
	apiRoute.HandleFunc("/queries/{name}", s.getQuery).Methods("GET")
	apiRoute.HandleFunc("/queries/{name}", s.deleteQuery).Methods("DELETE")
	apiRoute.HandleFunc("/queries/{name}/run", s.runQuery).Methods("POST")
	apiRoute.HandleFunc("/queries/{name}/share", s.shareQuery).Methods("POST")
	apiRoute.HandleFunc("/embed/{token}", s.runShared).Methods("GET")

	return MiddlewareChain(RequestLoggerMiddleware)(router)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server has started", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("server shutting down")
	return errors.WithStack(server.Shutdown(shutdownCtx))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sources": s.service.Sources()})
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.service.TestConnection(r.Context(), mux.Vars(r)["source"]); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) tables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.Tables(r.Context(), mux.Vars(r)["source"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

type columnBody struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

func (s *Server) columns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	columns, err := s.service.Columns(r.Context(), vars["source"], vars["table"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	body := make([]columnBody, 0, len(columns))
	for _, c := range columns {
		body = append(body, columnBody{Name: c.Name, Type: c.Type, Ref: c.Ref()})
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) renderField(w http.ResponseWriter, r *http.Request) {
	var spec queryfield.Spec
	if err := decode(r, &spec); err != nil {
		respondError(w, r, err)
		return
	}
	record, err := s.service.RenderField(r.Context(), mux.Vars(r)["source"], spec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) saveField(w http.ResponseWriter, r *http.Request) {
	var spec queryfield.Spec
	if err := decode(r, &spec); err != nil {
		respondError(w, r, err)
		return
	}
	record, err := s.service.SaveQueryField(r.Context(), mux.Vars(r)["source"], spec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) listFields(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListQueryFields(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// deleteField takes the name as a query parameter: canonical names contain
// characters that do not survive a path segment.
func (s *Server) deleteField(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, r, errors.Wrap(insights.ErrInvalidQuery, "name is required"))
		return
	}
	if err := s.service.DeleteQueryField(r.Context(), name); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) saveQuery(w http.ResponseWriter, r *http.Request) {
	var q insights.Query
	if err := decode(r, &q); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.service.SaveQuery(r.Context(), q); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	q, err := s.service.GetQuery(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteQuery(r.Context(), mux.Vars(r)["name"]); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RunSavedQuery(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) shareQuery(w http.ResponseWriter, r *http.Request) {
	share, err := s.service.ShareQuery(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, share)
}

func (s *Server) runShared(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RunShared(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
