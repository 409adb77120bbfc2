// Package api exposes the manual verification and sweep surfaces over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/LegionofMany/411BlockPages-sub001/internal/domain/model"
	"github.com/LegionofMany/411BlockPages-sub001/internal/poller"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Verifier is the slice of the orchestrator the API needs. In production it
// is satisfied by *poller.Orchestrator; tests provide a fake.
type Verifier interface {
	Verify(ctx context.Context, req poller.VerifyRequest) (*model.Pledge, bool, error)
	Sweep(ctx context.Context) (poller.RunSummary, error)
}

// Server handles donation verification requests.
type Server struct {
	verifier Verifier
	logger   *slog.Logger
}

func NewServer(verifier Verifier, logger *slog.Logger) *Server {
	return &Server{
		verifier: verifier,
		logger:   logger.With("component", "api"),
	}
}

// Handler returns the HTTP handler for the verification API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/verifications", s.handleVerify)
	mux.HandleFunc("POST /v1/sweep", s.handleSweep)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

type verifyRequest struct {
	FundraiserID string  `json:"fundraiserId"`
	Chain        string  `json:"chain"`
	TxHash       string  `json:"txHash"`
	Donor        *string `json:"donor,omitempty"`
	Amount       *string `json:"amount,omitempty"`
}

type pledgeResponse struct {
	ID              string    `json:"id"`
	FundraiserID    string    `json:"fundraiserId"`
	ExternalID      string    `json:"externalId"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	Donor           *string   `json:"donor,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	AlreadyRecorded bool      `json:"alreadyRecorded"`
}

func toPledgeResponse(p *model.Pledge, alreadyRecorded bool) pledgeResponse {
	return pledgeResponse{
		ID:              p.ID.String(),
		FundraiserID:    p.FundraiserID.String(),
		ExternalID:      p.ExternalID,
		Amount:          p.Amount.String(),
		Currency:        p.Currency,
		Donor:           p.Donor,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
		AlreadyRecorded: alreadyRecorded,
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.FundraiserID == "" || req.TxHash == "" {
		http.Error(w, `{"error":"fundraiserId and txHash are required"}`, http.StatusBadRequest)
		return
	}

	fundraiserID, err := uuid.Parse(req.FundraiserID)
	if err != nil {
		http.Error(w, `{"error":"fundraiserId must be a UUID"}`, http.StatusBadRequest)
		return
	}

	var chainID model.Chain
	if req.Chain != "" {
		var ok bool
		chainID, ok = model.ParseChain(req.Chain)
		if !ok {
			http.Error(w, `{"error":"unknown chain"}`, http.StatusBadRequest)
			return
		}
	}

	var amount *decimal.Decimal
	if req.Amount != nil {
		a, err := decimal.NewFromString(*req.Amount)
		if err != nil || a.IsNegative() {
			http.Error(w, `{"error":"amount must be a non-negative decimal string"}`, http.StatusBadRequest)
			return
		}
		amount = &a
	}

	pledge, alreadyRecorded, err := s.verifier.Verify(r.Context(), poller.VerifyRequest{
		FundraiserID: fundraiserID,
		Chain:        chainID,
		TxHash:       req.TxHash,
		Donor:        req.Donor,
		Amount:       amount,
	})
	if err != nil {
		s.writeVerifyError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPledgeResponse(pledge, alreadyRecorded))
}

func (s *Server) writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, poller.ErrNoQualifyingTx), errors.Is(err, poller.ErrUnknownFundraiser):
		http.Error(w, `{"error":"no qualifying transaction found"}`, http.StatusNotFound)
	case errors.Is(err, poller.ErrNotVerifiable), errors.Is(err, poller.ErrChainMismatch):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
	default:
		s.logger.Error("verification failed", "error", err, "path", r.URL.Path)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
	}
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := s.verifier.Sweep(r.Context())
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		http.Error(w, `{"error":"sweep failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
