package app

import (
	"context"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"rpcguard/internal/app/bootstrap"
	"rpcguard/internal/app/server"
	"rpcguard/internal/config"
	"rpcguard/internal/gate"
	jobruntime "rpcguard/internal/jobs/runtime"
	"rpcguard/internal/support"
)

const (
	defaultGatewayPort = 8545
	defaultAdminPort   = 8082
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	gatewayPortFlag := flag.Int("gateway-port", defaultGatewayPort, "Port for the RPC gateway")
	adminPortFlag := flag.Int("admin-port", defaultAdminPort, "Port for the admin API")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag || support.GetEnvBool("PRODUCTION", false))

	gatewayPort := resolvePort("GATEWAY_PORT", *gatewayPortFlag)
	adminPort := resolvePort("ADMIN_PORT", *adminPortFlag)

	upstream, err := url.Parse(support.GetEnv("UPSTREAM_RPC_URL", "http://localhost:8546"))
	if err != nil {
		log.Fatalf("invalid UPSTREAM_RPC_URL: %v", err)
	}

	// Redis is optional: without it the instance runs standalone, with no
	// cross-instance ban fanout or config sync.
	redisClient, err := support.GetRedisClient()
	if err != nil {
		log.Warn("Redis unavailable, running standalone", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if redisClient != nil {
		config.EnableRedisSynchronization(ctx, redisClient)
		defer config.DisableRedisSynchronization()
	}

	heartbeatCancel := jobruntime.LaunchInstanceHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	rt := bootstrap.Setup(ctx, redisClient)
	defer rt.Shutdown()

	admission := gate.New(rt.Bans, rt.Whitelist, rt.Recorder, rt.Geo, gate.NewUpstreamProxy(upstream))
	server.Wire(rt.Bans, rt.Aggregator, rt.Whitelist, rt.Recorder, redisClient)

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.OpenGatewayRoutes(gatewayPort, admission.Handler())
	}()
	go func() {
		errCh <- server.OpenAdminRoutes(adminPort)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, draining ingest pipeline")
		return nil
	case err := <-errCh:
		return err
	}
}

func resolvePort(envKey string, fallback int) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return fallback
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return fallback
	}
	return port
}
