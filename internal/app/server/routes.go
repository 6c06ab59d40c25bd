package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/netutil"

	"rpcguard/internal/aggregator"
	"rpcguard/internal/auth"
	"rpcguard/internal/banstore"
	"rpcguard/internal/config"
	"rpcguard/internal/gate"
	"rpcguard/internal/ingest"
)

var (
	banStore       *banstore.Store
	trafficAgg     *aggregator.Aggregator
	whitelistCache *gate.WhitelistCache
	recorder       *ingest.Recorder
	redisClient    *redis.Client
)

// Wire hands the handlers their runtime collaborators. Must be called
// before OpenAdminRoutes. The redis client may be nil when the instance
// runs standalone.
func Wire(bans *banstore.Store, agg *aggregator.Aggregator, wl *gate.WhitelistCache, rec *ingest.Recorder, client *redis.Client) {
	banStore = bans
	trafficAgg = agg
	whitelistCache = wl
	recorder = rec
	redisClient = client
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Wallet")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// OpenAdminRoutes serves the moderation and observability API.
func OpenAdminRoutes(port int) error {
	router := http.NewServeMux()

	router.HandleFunc("POST /auth/login", loginAdmin)
	router.HandleFunc("GET /healthz", getHealth)
	router.HandleFunc("GET /version", getVersion)

	router.Handle("GET /security/bans", auth.RequireAdmin(http.HandlerFunc(getBans)))
	router.Handle("POST /security/action", auth.RequireAdmin(http.HandlerFunc(applySecurityAction)))
	router.Handle("GET /security/activity", auth.RequireAdmin(http.HandlerFunc(getActivity)))
	router.Handle("GET /security/patterns", auth.RequireAdmin(http.HandlerFunc(getPatterns)))
	router.Handle("GET /security/chart", auth.RequireAdmin(http.HandlerFunc(getChart)))

	router.Handle("GET /security/whitelist", auth.RequireAdmin(http.HandlerFunc(getWhitelist)))
	router.Handle("POST /security/whitelist", auth.RequireAdmin(http.HandlerFunc(addWhitelist)))
	router.Handle("DELETE /security/whitelist", auth.RequireAdmin(http.HandlerFunc(deleteWhitelist)))

	router.Handle("GET /security/settings", auth.RequireAdmin(http.HandlerFunc(getSecuritySettings)))
	router.Handle("POST /security/settings", auth.RequireAdmin(http.HandlerFunc(saveSecuritySettings)))

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: enableCORS(router),
	}

	log.Infof("Starting admin API on port :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// OpenGatewayRoutes serves the RPC admission path. The listener is capped
// so a connection flood cannot exhaust the process before the gate even
// sees the requests.
func OpenGatewayRoutes(port int, handler http.Handler) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("gateway listen failed: %w", err)
	}

	if maxConns := config.GetConfig().Gate.MaxConcurrentConnections; maxConns > 0 {
		listener = netutil.LimitListener(listener, int(maxConns))
	}

	server := http.Server{Handler: handler}

	log.Infof("Starting RPC gateway on port :%d", port)
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}
