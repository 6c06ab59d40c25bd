package server

import (
	"encoding/json"
	"net/http"
	"time"

	"rpcguard/internal/api/dto"
	"rpcguard/internal/config"
	jobruntime "rpcguard/internal/jobs/runtime"
)

func getSecuritySettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveSecuritySettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := newConfig.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	config.SetConfig(newConfig)
	writeJSON(w, http.StatusOK, config.GetConfig())
}

// getHealth is unauthenticated so load balancers can probe it.
func getHealth(w http.ResponseWriter, r *http.Request) {
	info := dto.HealthInfo{Status: "ok"}

	if banStore != nil {
		info.BanSnapshotAgeSecs = banStore.SnapshotAge(time.Now()).Seconds()
	}
	if recorder != nil {
		info.IngestQueueDepth = recorder.QueueDepth()
	}
	if redisClient != nil {
		count, err := jobruntime.CountActiveInstances(r.Context(), redisClient)
		if err == nil {
			info.ActiveInstances = count
		}
	}

	writeJSON(w, http.StatusOK, info)
}
