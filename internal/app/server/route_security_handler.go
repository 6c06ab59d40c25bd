package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rpcguard/internal/api/dto"
	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/domain"

	"github.com/charmbracelet/log"
)

const defaultListLimit = 100

func getBans(w http.ResponseWriter, r *http.Request) {
	banType, err := optionalIdentityType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := banStore.ListActive(r.Context(), banType)
	if err != nil {
		log.Error("Failed to list active bans", "error", err)
		writeError(w, "Failed to list bans", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func applySecurityAction(w http.ResponseWriter, r *http.Request) {
	var action dto.SecurityAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	banType, err := domain.ParseIdentityType(action.Type)
	if err != nil {
		writeError(w, "Unknown target type", http.StatusBadRequest)
		return
	}

	identity, err := domain.ParseIdentity(banType, action.Target)
	if err != nil {
		writeError(w, "Invalid target", http.StatusBadRequest)
		return
	}

	switch strings.ToLower(action.Action) {
	case "ban":
		reason := action.Reason
		if reason == "" {
			reason = "manual ban"
		}

		duration := config.GetConfig().BanDefaultDuration()
		if action.DurationMinutes > 0 {
			duration = time.Duration(action.DurationMinutes) * time.Minute
		}

		record, err := banStore.Ban(r.Context(), identity, reason, duration, action.Permanent)
		if err != nil {
			log.Error("Manual ban failed", "target", identity.Key(), "error", err)
			writeError(w, "Failed to apply ban", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, record)

	case "unban":
		if err := banStore.Unban(r.Context(), identity); err != nil {
			log.Error("Manual unban failed", "target", identity.Key(), "error", err)
			writeError(w, "Failed to remove ban", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeError(w, "Unknown action", http.StatusBadRequest)
	}
}

func getActivity(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var identity *domain.Identity
	if value := query.Get("value"); value != "" {
		banType, err := domain.ParseIdentityType(query.Get("type"))
		if err != nil {
			writeError(w, "Unknown target type", http.StatusBadRequest)
			return
		}
		parsed, err := domain.ParseIdentity(banType, value)
		if err != nil {
			writeError(w, "Invalid target", http.StatusBadRequest)
			return
		}
		identity = &parsed
	}

	entries, err := database.ListRecentActivity(r.Context(), identity, parseLimit(query.Get("limit")))
	if err != nil {
		log.Error("Failed to list recent activity", "error", err)
		writeError(w, "Failed to list activity", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func getPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := database.ListAttackPatterns(r.Context(), parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		log.Error("Failed to list attack patterns", "error", err)
		writeError(w, "Failed to list patterns", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, patterns)
}

func optionalIdentityType(raw string) (*domain.IdentityType, error) {
	if raw == "" {
		return nil, nil
	}
	banType, err := domain.ParseIdentityType(raw)
	if err != nil {
		return nil, errors.New("unknown target type")
	}
	return &banType, nil
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
