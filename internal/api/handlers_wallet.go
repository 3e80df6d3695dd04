package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleCreateWallet handles POST /api/wallets - Create a custodial wallet
func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		Password string `json:"password"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID is required", nil)
		return
	}
	if req.Password == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Password is required", nil)
		return
	}

	wallet, err := s.walletService.CreateWallet(r.Context(), req.UserID, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, wallet)
}

// handleDeployWallet handles POST /api/wallets/deploy - Submit account deployment
func (s *Server) handleDeployWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		Password string `json:"password"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.UserID == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID and password are required", nil)
		return
	}

	wallet, err := s.walletService.DeployWallet(r.Context(), req.UserID, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, wallet)
}

// handleGetWallet handles GET /api/wallets/:userId - Get the user's active wallet
func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID required", nil)
		return
	}

	wallet, err := s.walletService.GetWalletByUserID(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, wallet)
}

// handleRotatePassword handles POST /api/wallets/rotate-password
func (s *Server) handleRotatePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"userId"`
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.UserID == "" || req.OldPassword == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "User ID, old password and new password are required", nil)
		return
	}

	if err := s.walletService.RotatePassword(r.Context(), req.UserID, req.OldPassword, req.NewPassword); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
}
