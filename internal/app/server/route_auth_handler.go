package server

import (
	"encoding/json"
	"net/http"

	"rpcguard/internal/api/dto"
	"rpcguard/internal/auth"

	"github.com/charmbracelet/log"
)

func loginAdmin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if !auth.IsAdminWallet(req.Wallet) {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateAdminToken(auth.AdminWallet())
	if err != nil {
		log.Error("Failed to issue admin token", "error", err)
		writeError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.LoginResponse{Token: token})
}
