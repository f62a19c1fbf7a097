// Package server exposes the chat core over HTTP. It is a thin external
// interface: auth/session handling sits in front of it and hands us an
// authenticated user identity; no business logic lives here.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/finchat-kernel/internal/assistant"
	"github.com/finchat-kernel/internal/jsonx"
	"github.com/finchat-kernel/internal/records"
	"github.com/finchat-kernel/internal/store"
)

// Server wires the assistant and the record store onto HTTP routes.
type Server struct {
	svc    *assistant.Service
	store  *store.Store
	logger *zap.Logger
}

// New creates the HTTP server layer. store may be nil when record
// mutations are handled by another process; the chat and cache admin
// routes work without it.
func New(svc *assistant.Service, recordStore *store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, store: recordStore, logger: logger.Named("http")}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/api/invalidate/{userID}", s.handleInvalidate).Methods(http.MethodPost)
	r.HandleFunc("/api/cache/clear", s.handleCacheClear).Methods(http.MethodPost)
	r.HandleFunc("/api/cache/stats", s.handleCacheStats).Methods(http.MethodGet)

	if s.store != nil {
		r.HandleFunc("/api/records", s.handleAddRecord).Methods(http.MethodPost)
		r.HandleFunc("/api/records/{userID}/{recordID}", s.handleDeleteRecord).Methods(http.MethodDelete)
	}

	return handlers.CORS(
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	reply, err := s.svc.HandleQuery(r.Context(), req.UserID, req.Message)
	if err != nil {
		// Data-load failure is the one case that surfaces as a
		// protocol-level error instead of a text reply.
		s.logger.Error("chat query failed",
			zap.String("user", req.UserID),
			zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "financial data is temporarily unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	s.svc.Invalidate(userID)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.svc.ClearAll()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.CacheStats())
}

type addRecordRequest struct {
	UserID     string `json:"user_id"`
	Kind       string `json:"kind"`
	Amount     string `json:"amount"`
	Category   string `json:"category"`
	OccurredAt string `json:"occurred_at"`
	Status     string `json:"status"`
	LoanID     string `json:"loan_id"`
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var req addRecordRequest
	if err := jsonx.DecodeReader(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := parseRecord(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.store.AddRecord(r.Context(), rec)
	if err != nil {
		s.logger.Error("failed to add record", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store record")
		return
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.DeleteRecord(r.Context(), vars["userID"], vars["recordID"]); err != nil {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonx.EncodeWriter(w, v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func parseRecord(req addRecordRequest) (records.Record, error) {
	rec := records.Record{
		UserID:   req.UserID,
		Kind:     records.Kind(req.Kind),
		Category: req.Category,
		Status:   records.LoanStatus(req.Status),
		LoanID:   req.LoanID,
	}
	if rec.UserID == "" {
		return records.Record{}, errMissingField("user_id")
	}
	switch rec.Kind {
	case records.KindIncome, records.KindExpense, records.KindLoan, records.KindLoanPayment:
	default:
		return records.Record{}, errMissingField("kind")
	}

	if rec.Kind == records.KindLoan {
		switch rec.Status {
		case "":
			// A new loan with no explicit status starts active.
			rec.Status = records.LoanActive
		case records.LoanActive, records.LoanPaid, records.LoanOverdue:
		default:
			return records.Record{}, errBadField("status")
		}
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return records.Record{}, err
	}
	rec.Amount = amount

	if req.OccurredAt != "" {
		ts, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			return records.Record{}, errBadField("occurred_at")
		}
		rec.OccurredAt = ts
	}
	return rec, nil
}
