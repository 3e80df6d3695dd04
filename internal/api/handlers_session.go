package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/pending"
	"github.com/shield-wallet/internal/types"
	"github.com/shopspring/decimal"
)

// sessionToken extracts the opaque session token from the Authorization
// header. Empty when absent or malformed.
func sessionToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// sessionStatusView is the client-facing session state
type sessionStatusView struct {
	Session        *models.Session `json:"session"`
	WalletUnlocked bool            `json:"walletUnlocked"`
}

// handleCreateSession handles POST /api/sessions - Get or create a session
// bound to the user's active wallet
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"userId"`
		ExternalID string `json:"externalId"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.UserID == "" || req.ExternalID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID and external ID are required", nil)
		return
	}

	wallet, err := s.walletService.GetWalletByUserID(r.Context(), req.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	session, err := s.sessionService.GetOrCreateSession(r.Context(), req.UserID, req.ExternalID, wallet.PasswordHash)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session":      session,
		"sessionToken": session.SessionToken,
	})
}

// handleSessionStatus handles GET /api/sessions/status
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Session token required", nil)
		return
	}

	session, err := s.sessionService.GetSession(r.Context(), token)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sessionStatusView{
		Session:        session,
		WalletUnlocked: s.sessionService.IsWalletUnlocked(r.Context(), token),
	})
}

// handleUnlockWallet handles POST /api/sessions/unlock - Verify the
// password and decrypt the signing key into the session. A pending
// operation parked while the wallet was locked is executed on success.
func (s *Server) handleUnlockWallet(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Session token required", nil)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Password == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Password is required", nil)
		return
	}

	session, err := s.sessionService.GetSession(r.Context(), token)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	wallet, err := s.walletService.GetWalletByUserID(r.Context(), session.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	unlocked, err := s.sessionService.UnlockWallet(r.Context(), token, req.Password, wallet)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resumed := s.resumePendingOp(r.Context(), token, unlocked.ExternalID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session":          unlocked,
		"resumedOperation": resumed,
	})
}

// resumePendingOp executes and clears any operation parked for the
// identity while the wallet was locked. Returns the receipt, or nil when
// nothing was pending. Failures are logged, not surfaced: the unlock
// itself succeeded.
func (s *Server) resumePendingOp(ctx context.Context, token, identity string) *models.Transaction {
	op, err := s.pendingStore.Get(ctx, identity)
	if err != nil {
		if err != pending.ErrNotFound {
			logging.WithField("identity", identity).WithFields(map[string]interface{}{"error": err.Error()}).Warn("Failed to read pending operation")
		}
		return nil
	}

	var receipt *models.Transaction
	switch op.Kind {
	case types.PendingShield:
		amount, perr := decimal.NewFromString(op.Shield.Amount)
		if perr == nil {
			receipt, err = s.transferService.Shield(ctx, token, op.Shield.Token, amount, op.Shield.TokenSymbol)
		}
	case types.PendingPrivateTransfer:
		amount, perr := decimal.NewFromString(op.Transfer.Amount)
		if perr == nil {
			receipt, err = s.transferService.PrivateTransfer(ctx, token, op.Transfer.Recipient, op.Transfer.Token, amount, op.Transfer.TokenSymbol)
		}
	case types.PendingUnshield:
		amount, perr := decimal.NewFromString(op.Unshield.Amount)
		if perr == nil {
			receipt, err = s.transferService.Unshield(ctx, token, op.Unshield.Token, amount, op.Unshield.WithdrawAddress, op.Unshield.TokenSymbol)
		}
	case types.PendingDeploy:
		// Deployment needs the password again; it cannot be replayed here
	}

	if err != nil {
		logging.WithFields(map[string]interface{}{
			"identity": identity,
			"kind":     op.Kind,
			"error":    err.Error(),
		}).Warn("Parked operation failed on resume")
	}

	// Cleared regardless of outcome so a failing operation cannot replay
	if cerr := s.pendingStore.Clear(ctx, identity); cerr != nil {
		logging.WithField("identity", identity).Warn("Failed to clear pending operation")
	}

	return receipt
}

// handleLockWallet handles POST /api/sessions/lock - Evict the resident key
func (s *Server) handleLockWallet(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Session token required", nil)
		return
	}

	if err := s.sessionService.LockWallet(r.Context(), token); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

// handleLockSession handles POST /api/sessions/lock-session - Hard-lock
// the session on suspected compromise
func (s *Server) handleLockSession(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Session token required", nil)
		return
	}

	if err := s.sessionService.LockSession(r.Context(), token); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "session_locked"})
}

// handleExtendKeyUnlock handles POST /api/sessions/extend
func (s *Server) handleExtendKeyUnlock(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Session token required", nil)
		return
	}

	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	session, err := s.sessionService.ExtendKeyUnlock(r.Context(), token, req.Minutes)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

// handleInvalidateSession handles DELETE /api/sessions
func (s *Server) handleInvalidateSession(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Session token required", nil)
		return
	}

	if err := s.sessionService.InvalidateSession(r.Context(), token); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
