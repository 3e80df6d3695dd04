package api

import (
	"net/http"

	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/pending"
	"github.com/shopspring/decimal"

	"github.com/gorilla/mux"
)

// transferRequest is the shared request body of the transfer endpoints.
// Amounts travel as strings to preserve precision.
type transferRequest struct {
	Recipient       string  `json:"recipient,omitempty"`
	Token           string  `json:"token"`
	Amount          string  `json:"amount"`
	WithdrawAddress string  `json:"withdrawAddress,omitempty"`
	TokenSymbol     *string `json:"tokenSymbol,omitempty"`
}

func (s *Server) parseTransferRequest(w http.ResponseWriter, r *http.Request) (*transferRequest, decimal.Decimal, bool) {
	var req transferRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return nil, decimal.Zero, false
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Token is required", nil)
		return nil, decimal.Zero, false
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Amount must be a positive decimal", nil)
		return nil, decimal.Zero, false
	}

	return &req, amount, true
}

// respondTransferResult writes the receipt, or parks the operation when
// the wallet is locked so it can resume on the next unlock
func (s *Server) respondTransferResult(w http.ResponseWriter, r *http.Request, identity string, op *pending.Op, receipt *models.Transaction, err error) {
	if err == nil {
		respondJSON(w, http.StatusAccepted, receipt)
		return
	}

	if apperrors.Is(err, "WALLET_LOCKED") && op != nil {
		if perr := s.pendingStore.Put(r.Context(), identity, op); perr == nil {
			respondError(w, http.StatusLocked, "WALLET_LOCKED", "Wallet is locked; operation parked until the next unlock", map[string]interface{}{
				"pending": true,
				"kind":    op.Kind,
			})
			return
		}
	}

	respondServiceError(w, err)
}

// handleShield handles POST /api/transfers/shield
func (s *Server) handleShield(w http.ResponseWriter, r *http.Request) {
	session, token, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	req, amount, ok := s.parseTransferRequest(w, r)
	if !ok {
		return
	}

	receipt, err := s.transferService.Shield(r.Context(), token, req.Token, amount, req.TokenSymbol)
	s.respondTransferResult(w, r, session.ExternalID, pending.NewShield(req.Token, req.Amount, req.TokenSymbol), receipt, err)
}

// handlePrivateTransfer handles POST /api/transfers/private
func (s *Server) handlePrivateTransfer(w http.ResponseWriter, r *http.Request) {
	session, token, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	req, amount, ok := s.parseTransferRequest(w, r)
	if !ok {
		return
	}
	if req.Recipient == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Recipient is required", nil)
		return
	}

	receipt, err := s.transferService.PrivateTransfer(r.Context(), token, req.Recipient, req.Token, amount, req.TokenSymbol)
	s.respondTransferResult(w, r, session.ExternalID, pending.NewTransfer(req.Recipient, req.Token, req.Amount, req.TokenSymbol), receipt, err)
}

// handleUnshield handles POST /api/transfers/unshield
func (s *Server) handleUnshield(w http.ResponseWriter, r *http.Request) {
	session, token, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	req, amount, ok := s.parseTransferRequest(w, r)
	if !ok {
		return
	}
	if req.WithdrawAddress == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Withdraw address is required", nil)
		return
	}

	receipt, err := s.transferService.Unshield(r.Context(), token, req.Token, amount, req.WithdrawAddress, req.TokenSymbol)
	s.respondTransferResult(w, r, session.ExternalID, pending.NewUnshield(req.Token, req.Amount, req.WithdrawAddress, req.TokenSymbol), receipt, err)
}

// handleSend handles POST /api/transfers/send - Public transfer signed
// with the session key. Never parked: a public send while locked is
// simply rejected.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	req, amount, ok := s.parseTransferRequest(w, r)
	if !ok {
		return
	}
	if req.Recipient == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Recipient is required", nil)
		return
	}

	receipt, err := s.transferService.Send(r.Context(), token, req.Recipient, req.Token, amount, req.TokenSymbol)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, receipt)
}

// handleTransactionHistory handles GET /api/transactions
func (s *Server) handleTransactionHistory(w http.ResponseWriter, r *http.Request) {
	session, _, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	history, err := s.transferService.GetTransactionHistory(r.Context(), session.UserID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": history})
}

// handleGetTransaction handles GET /api/transactions/:hash
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.requireSession(w, r); !ok {
		return
	}

	hash := mux.Vars(r)["hash"]
	txn, err := s.transferService.GetTransactionByHash(r.Context(), hash)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, txn)
}
