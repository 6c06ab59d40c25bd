package bootstrap

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"rpcguard/internal/aggregator"
	"rpcguard/internal/banstore"
	"rpcguard/internal/classifier"
	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/gate"
	"rpcguard/internal/geo"
	"rpcguard/internal/ingest"
	jobruntime "rpcguard/internal/jobs/runtime"
)

const startupRefreshTimeout = 10 * time.Second

// Runtime bundles the long-lived engine components wired during Setup.
type Runtime struct {
	Recorder   *ingest.Recorder
	Aggregator *aggregator.Aggregator
	Bans       *banstore.Store
	Whitelist  *gate.WhitelistCache
	Geo        *geo.Resolver

	recorderDone   chan struct{}
	aggregatorDone chan struct{}
	cancels        []context.CancelFunc
}

// Setup loads configuration, connects the database, and starts every
// background routine of the engine. redisClient may be nil for
// single-instance deployments.
func Setup(parent context.Context, redisClient *redis.Client) *Runtime {
	config.ReadSettings()

	if _, err := database.SetupDB(); err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}

	rt := &Runtime{
		Recorder:       ingest.NewRecorder(),
		Aggregator:     aggregator.New(),
		Bans:           banstore.New(),
		Whitelist:      gate.NewWhitelistCache(),
		Geo:            geo.Open(),
		recorderDone:   make(chan struct{}),
		aggregatorDone: make(chan struct{}),
	}

	refreshCtx, cancelRefresh := context.WithTimeout(parent, startupRefreshTimeout)
	defer cancelRefresh()

	if err := rt.Bans.Refresh(refreshCtx); err != nil {
		// The gate's fail-open policy decides what happens until the
		// first refresh succeeds.
		log.Error("Initial ban snapshot failed", "error", err)
	}
	if err := rt.Whitelist.Refresh(refreshCtx); err != nil {
		log.Error("Initial whitelist load failed", "error", err)
	}

	// Routines

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	rt.cancels = append(rt.cancels, cancelPipeline)

	events := rt.Recorder.Subscribe()
	go func() {
		defer close(rt.recorderDone)
		rt.Recorder.Run(pipelineCtx)
	}()
	go func() {
		defer close(rt.aggregatorDone)
		// No ctx: the aggregator exits when the recorder drains the
		// queue and closes its subscribers, so no tail event is lost.
		rt.Aggregator.Run(context.Background(), events)
	}()

	rt.cancels = append(rt.cancels,
		rt.Bans.StartRefreshLoop(parent),
		rt.Whitelist.StartRefreshLoop(parent),
		classifier.New(rt.Aggregator, rt.Bans).Launch(parent, redisClient),
		jobruntime.LaunchRetentionSweep(parent, redisClient),
		jobruntime.LaunchGeoLiteUpdate(parent, redisClient, rt.Geo),
	)

	if redisClient != nil {
		rt.Bans.EnableRedisFanout(parent, redisClient)
	}

	return rt
}

// Shutdown stops the background routines and drains the ingest pipeline so
// buffered request events reach the database before the process exits.
func (rt *Runtime) Shutdown() {
	for _, cancel := range rt.cancels {
		cancel()
	}

	<-rt.recorderDone
	<-rt.aggregatorDone

	rt.Geo.Close()
}
