package api

import (
	"net/http"
	"strconv"

	"github.com/shield-wallet/internal/models"
	"github.com/shopspring/decimal"
)

// requireSession resolves the caller's session or writes an error response.
// The boolean reports whether the handler may proceed.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*models.Session, string, bool) {
	token := sessionToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Session token required", nil)
		return nil, "", false
	}

	session, err := s.sessionService.GetSession(r.Context(), token)
	if err != nil {
		respondServiceError(w, err)
		return nil, "", false
	}
	return session, token, true
}

// parsePagination reads limit/offset query parameters, zero when absent
func parsePagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// handleNoteBalances handles GET /api/notes/balances - Private balances
// per token for the session's identity
func (s *Server) handleNoteBalances(w http.ResponseWriter, r *http.Request) {
	session, _, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	balances, err := s.noteService.UnspentBalanceByToken(r.Context(), session.ExternalID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

// handleListNotes handles GET /api/notes - The identity's notes, newest first
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	session, _, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	notes, err := s.noteService.ListNotes(r.Context(), session.ExternalID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"notes": notes})
}

// spendPreviewNote is the redacted note view returned by spend previews
type spendPreviewNote struct {
	Commitment string `json:"commitment"`
	NoteIndex  int64  `json:"noteIndex"`
	Amount     string `json:"amount"`
}

// handleSpendPreview handles POST /api/notes/spend-preview - Dry-run the
// note selection for a spend without touching the ledger
func (s *Server) handleSpendPreview(w http.ResponseWriter, r *http.Request) {
	session, _, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Token  string `json:"token"`
		Amount string `json:"amount"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Amount must be a positive decimal", nil)
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Token is required", nil)
		return
	}

	selected, total, err := s.noteService.SelectNotesForSpend(r.Context(), session.ExternalID, req.Token, amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	preview := make([]spendPreviewNote, len(selected))
	for i, n := range selected {
		preview[i] = spendPreviewNote{Commitment: n.Commitment, NoteIndex: n.NoteIndex, Amount: n.Amount}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notes":  preview,
		"total":  total.String(),
		"change": total.Sub(amount).String(),
	})
}
