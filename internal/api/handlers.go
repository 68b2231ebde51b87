package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"fraudgate/internal/auth"
	"fraudgate/internal/transfer"
)

type errorResponse struct {
	Error string `json:"error"`
}

type fraudCheckRequest struct {
	UserID        string   `json:"userId"`
	Amount        *float64 `json:"amount"`
	BeneficiaryID string   `json:"beneficiaryId"`
	Description   string   `json:"description"`
}

type newBeneficiaryPayload struct {
	Name          string `json:"name"`
	UPIID         string `json:"upi_id"`
	AccountNumber string `json:"account_number"`
	IFSCCode      string `json:"ifsc_code"`
}

type transferRequest struct {
	Amount         *float64               `json:"amount"`
	Description    string                 `json:"description"`
	BeneficiaryID  string                 `json:"beneficiaryId"`
	NewBeneficiary *newBeneficiaryPayload `json:"newBeneficiary"`
	PaymentMethod  string                 `json:"paymentMethod"`
}

type transferResponse struct {
	Status        string      `json:"status"`
	Flagged       bool        `json:"flagged"`
	RiskScore     float64     `json:"riskScore"`
	TransactionID string      `json:"transactionId,omitempty"`
	Fraud         interface{} `json:"fraud"`
}

func (s *Server) handleFraudCheck(w http.ResponseWriter, r *http.Request) {
	var req fraudCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}

	userID := req.UserID
	if userID == "" {
		if user := s.resolver.Resolve(r); user != nil {
			userID = user.ID
		}
	}
	if userID == "" || req.Amount == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId and amount are required"})
		return
	}

	amount := decimal.NewFromFloat(*req.Amount)
	eval := s.evaluator.Evaluate(r.Context(), userID, amount, req.BeneficiaryID, req.Description)
	writeJSON(w, http.StatusOK, eval.Wire())
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}
	if req.Amount == nil || *req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Amount must be positive"})
		return
	}

	user := s.resolver.Resolve(r)

	treq := transfer.Request{
		Amount:        decimal.NewFromFloat(*req.Amount),
		Description:   req.Description,
		BeneficiaryID: req.BeneficiaryID,
		PaymentMethod: req.PaymentMethod,
		Demo:          s.isDemo(user),
	}
	if user != nil {
		treq.UserID = user.ID
	}
	if req.NewBeneficiary != nil {
		treq.NewBeneficiary = &transfer.NewBeneficiary{
			Name:          req.NewBeneficiary.Name,
			UPIID:         req.NewBeneficiary.UPIID,
			AccountNumber: req.NewBeneficiary.AccountNumber,
			IFSCCode:      req.NewBeneficiary.IFSCCode,
		}
	}

	result, err := s.authorizer.Authorize(r.Context(), treq)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrInvalidAmount):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Amount must be positive"})
		case errors.Is(err, transfer.ErrStoreNotReady):
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Server not ready"})
		default:
			s.logger.Error().Err(err).Msg("transfer failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Transfer failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, transferResponse{
		Status:        result.Status,
		Flagged:       result.Flagged,
		RiskScore:     result.RiskScore,
		TransactionID: result.TransactionID,
		Fraud:         result.Evaluation.Wire(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "up"
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			database = "down"
		}
	} else {
		database = "unconfigured"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": database})
}

// isDemo reports whether a transfer should run in simulated demo mode:
// unauthenticated callers, or the configured demo identity.
func (s *Server) isDemo(user *auth.User) bool {
	if user == nil {
		return true
	}
	if s.authCfg.DummyEnabled && user.ID == s.authCfg.DummyUserID {
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
