package server

import (
	"encoding/json"
	"net/http"
	"time"

	"rpcguard/internal/api/dto"
	"rpcguard/internal/database"
	"rpcguard/internal/domain"

	"github.com/charmbracelet/log"
)

func getWhitelist(w http.ResponseWriter, r *http.Request) {
	ips, wallets, err := database.ListWhitelistEntries(r.Context())
	if err != nil {
		log.Error("Failed to list whitelist", "error", err)
		writeError(w, "Failed to list whitelist", http.StatusInternalServerError)
		return
	}

	entries := make([]dto.WhitelistEntry, 0, len(ips)+len(wallets))
	for _, entry := range ips {
		entries = append(entries, dto.WhitelistEntry{
			Type:    string(domain.IdentityIP),
			Value:   entry.IP,
			Note:    entry.Note,
			AddedAt: entry.CreatedAt.Format(time.RFC3339),
		})
	}
	for _, entry := range wallets {
		entries = append(entries, dto.WhitelistEntry{
			Type:    string(domain.IdentityWallet),
			Value:   entry.Wallet,
			Note:    entry.Note,
			AddedAt: entry.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, entries)
}

func addWhitelist(w http.ResponseWriter, r *http.Request) {
	var req dto.WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	identity, err := parseWhitelistTarget(req.Type, req.Value)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := database.AddWhitelistEntry(r.Context(), identity, req.Note); err != nil {
		log.Error("Failed to add whitelist entry", "target", identity.Key(), "error", err)
		writeError(w, "Failed to add whitelist entry", http.StatusInternalServerError)
		return
	}

	// Apply locally right away; other instances catch up on their refresh.
	whitelistCache.Add(identity)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func deleteWhitelist(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	identity, err := parseWhitelistTarget(query.Get("type"), query.Get("value"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	existed, err := database.RemoveWhitelistEntry(r.Context(), identity)
	if err != nil {
		log.Error("Failed to remove whitelist entry", "target", identity.Key(), "error", err)
		writeError(w, "Failed to remove whitelist entry", http.StatusInternalServerError)
		return
	}

	whitelistCache.Remove(identity)

	if !existed {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseWhitelistTarget(rawType, rawValue string) (domain.Identity, error) {
	banType, err := domain.ParseIdentityType(rawType)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.ParseIdentity(banType, rawValue)
}
