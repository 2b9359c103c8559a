// Command realtime-worker is a worker node: it hosts cospace actors on
// behalf of the main node, either one dedicated cospace pool per actor
// or one node-wide shared pool, and serves them over the cluster
// transport.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/fasttravel/realtime/internal/config"
	"github.com/fasttravel/realtime/internal/logger"
	"github.com/fasttravel/realtime/internal/manager"
	"github.com/fasttravel/realtime/internal/services"
	"github.com/fasttravel/realtime/internal/transport"
)

func main() {
	nodeID := flag.Uint("node-id", 0, "cluster node id assigned by the main node")
	mode := flag.String("mode", "dedicated", "service pool allocation: dedicated or shared")
	flag.Parse()

	cfg := config.Load()
	logger.Initialize(cfg.Server.LogLevel, cfg.Server.LogPretty)
	log := logger.Log.With().Uint32("node_id", uint32(*nodeID)).Logger()

	if cfg.Cluster.NATSURL == "" {
		log.Fatal().Msg("NATS_URL must be set for worker nodes")
	}

	sizes := manager.PoolSizes{
		Core:     cfg.Services.PoolSizeCore,
		Presence: cfg.Services.PoolSizePresence,
		Activity: cfg.Services.PoolSizeActivity,
		Model:    cfg.Services.PoolSizeModel,
	}

	var nodes *manager.NodeManager
	switch *mode {
	case "shared":
		nodes = manager.NewSharedNodeManager(services.DefaultFactory(log), sizes, log)
	case "dedicated":
		nodes = manager.NewDedicatedNodeManager(services.DefaultFactory(log), sizes, log)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown worker mode")
	}

	trans, err := transport.Connect(transport.Config{
		URL:      cfg.Cluster.NATSURL,
		Name:     "realtime-worker",
		User:     cfg.Cluster.NATSUser,
		Password: cfg.Cluster.NATSPassword,
	}, *logger.Cluster())
	if err != nil {
		log.Fatal().Err(err).Msg("cluster transport unavailable")
	}
	defer trans.Close()

	srv, err := trans.ServeNodeManager(uint32(*nodeID), nodes)
	if err != nil {
		log.Fatal().Err(err).Msg("node manager registration failed")
	}
	defer srv.Close()

	log.Info().Str("mode", *mode).Msg("worker node serving")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("worker shutting down")
}
