// Command realtime-server is the main node: it serves the /realtime
// HTTP/WebSocket boundary, schedules cospaces onto itself or onto worker
// nodes, and bridges connected clients into the cospace actor fabric.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/admission"
	"github.com/fasttravel/realtime/internal/audit"
	"github.com/fasttravel/realtime/internal/cache"
	"github.com/fasttravel/realtime/internal/config"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/logger"
	"github.com/fasttravel/realtime/internal/manager"
	"github.com/fasttravel/realtime/internal/placement"
	"github.com/fasttravel/realtime/internal/registry"
	"github.com/fasttravel/realtime/internal/server"
	"github.com/fasttravel/realtime/internal/services"
	"github.com/fasttravel/realtime/internal/sweep"
	"github.com/fasttravel/realtime/internal/transport"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.Server.LogLevel, cfg.Server.LogPretty)
	log := logger.Log

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	publicKey, err := cfg.Server.LoadPublicKey()
	if err != nil {
		log.Fatal().Err(err).Msg("session public key unavailable")
	}
	validator := admission.NewValidator(publicKey)

	reg := registry.New()

	auditLog, err := audit.Open(cfg.Cluster.PostgresDSN, *logger.Database())
	if err != nil {
		log.Fatal().Err(err).Msg("audit log unavailable")
	}
	defer auditLog.Close()

	redisCache := openCache(cfg.Cluster)
	defer redisCache.Close()
	mirror := cache.NewRegistryMirror(redisCache, *logger.Database())

	// The main node acts as its own worker for main placement: one
	// shared service pool serving every cospace hosted in-process.
	sizes := manager.PoolSizes{
		Core:     cfg.Services.PoolSizeCore,
		Presence: cfg.Services.PoolSizePresence,
		Activity: cfg.Services.PoolSizeActivity,
		Model:    cfg.Services.PoolSizeModel,
	}
	nodes := manager.NewSharedNodeManager(services.DefaultFactory(log), sizes, log)

	// Cluster transport, worker launchers, and the shared worker are
	// only brought up when a non-main placement can occur.
	var (
		trans        *transport.Transport
		registrar    *transport.Registrar
		sharedClient manager.NodeClient
		launcher     manager.WorkerLauncher
		procLauncher *placement.ProcessLauncher
	)
	clusterLog := *logger.Cluster()
	if cfg.Cluster.NATSURL != "" {
		trans, err = transport.Connect(transport.Config{
			URL:      cfg.Cluster.NATSURL,
			Name:     "realtime-server-main",
			User:     cfg.Cluster.NATSUser,
			Password: cfg.Cluster.NATSPassword,
		}, clusterLog)
		if err != nil {
			log.Fatal().Err(err).Msg("cluster transport unavailable")
		}
		defer trans.Close()

		registrar, err = trans.NewRegistrar()
		if err != nil {
			log.Fatal().Err(err).Msg("worker registrar unavailable")
		}
		defer registrar.Close()

		launcher, procLauncher = buildLauncher(cfg, trans, registrar, clusterLog)

		if cfg.PlacementPolicy == "shared" || cfg.PlacementPolicy == "resource" {
			sharedClient = launchSharedWorker(cfg, trans, registrar, clusterLog)
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	policy := buildPolicy(rootCtx, cfg, clusterLog)
	cospaces := manager.New(reg, policy, localNode{nodes}, sharedClient, launcher, log)
	if auditLog != nil {
		cospaces.Observe(server.AuditObserver{Record: func(id ids.CospaceID, root ids.ModelRoot, transition, detail string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			auditLog.Record(ctx, id, transition, root, detail)
		}})
	}
	if mirror.Enabled() {
		cospaces.Observe(server.MirrorObserver{Mirror: mirror})
	}

	sweeper := sweep.NewScheduler([]sweep.Job{
		{
			Name: "expire-scheduled-cospaces",
			Spec: getEnv("SWEEP_CRON", "* * * * *"),
			Run:  func() { cospaces.SweepScheduled(manager.DefaultScheduleTimeout) },
		},
	}, log)
	sweeper.Start()
	defer sweeper.Stop()

	srv := server.New(validator, cospaces, nodes, reg, trans, mirror, *logger.WebSocket())

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Router(),

		// Only the header read gets a server-wide deadline: upgraded
		// sockets manage their own read/write deadlines in the endpoint
		// pumps, so Read/WriteTimeout must stay zero.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("realtime server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown forced")
	}
	if procLauncher != nil {
		procLauncher.ShutdownAll(ctx)
	}
	log.Info().Msg("shutdown complete")
}

// localNode adapts the in-process node manager to the placement
// client surface.
type localNode struct {
	nm *manager.NodeManager
}

func (l localNode) CreateCospaceActor(ctx context.Context, req manager.CreateCospaceActorRequest) (bool, error) {
	return l.nm.CreateCospaceActor(ctx, req)
}

func buildPolicy(ctx context.Context, cfg config.Config, log zerolog.Logger) manager.PlacementPolicy {
	switch cfg.PlacementPolicy {
	case "main":
		return manager.MainOnly{}
	case "shared":
		return manager.SharedOnly{}
	case "resource":
		metrics, err := placement.NewMetricsClientset()
		if err != nil {
			logger.Log.Warn().Err(err).Msg("node metrics unavailable, resource policy defaults to shared")
			return manager.ResourceAware{}
		}
		monitor := placement.NewPressureMonitor(metrics, time.Minute, getEnvInt64("PRESSURE_CPU_MILLI", 3000), log)
		go monitor.Run(ctx)
		return manager.ResourceAware{NodePressure: monitor.Pressure}
	default:
		return manager.DedicatedOnly{}
	}
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func buildLauncher(cfg config.Config, trans *transport.Transport, registrar *transport.Registrar, log zerolog.Logger) (manager.WorkerLauncher, *placement.ProcessLauncher) {
	if cfg.Workers.Backend == "k8s" {
		clientset, err := placement.NewK8sClientset()
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("kubernetes backend unavailable")
		}
		return placement.NewK8sLauncher(clientset, placement.K8sConfig{
			Namespace: cfg.Workers.K8sNamespace,
			Image:     cfg.Workers.K8sImage,
			NATSURL:   cfg.Cluster.NATSURL,
		}, dedicatedFirstNodeID, trans, registrar, log), nil
	}
	l := placement.NewProcessLauncher(cfg.Workers.DedicatedNodeBinPath, dedicatedFirstNodeID, trans, registrar, log)
	return l, l
}

// Node id convention: 0 is the main node, 1 the shared worker, 2+ the
// dedicated workers.
const (
	sharedNodeID         = 1
	dedicatedFirstNodeID = 2
)

func launchSharedWorker(cfg config.Config, trans *transport.Transport, registrar *transport.Registrar, log zerolog.Logger) manager.NodeClient {
	l := placement.NewProcessLauncher(cfg.Workers.SharedNodeBinPath, sharedNodeID, trans, registrar, log, "--mode", "shared")
	ctx, cancel := context.WithTimeout(context.Background(), placement.RegistrationTimeout)
	defer cancel()
	_, client, err := l.Launch(ctx)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("shared worker launch failed")
	}
	return client
}

func openCache(cluster config.ClusterConfig) *cache.Cache {
	host, port := splitAddr(cluster.RedisAddr)
	c, err := cache.NewCache(cache.Config{
		Host:     host,
		Port:     port,
		Password: cluster.RedisPass,
		DB:       0,
		Enabled:  cluster.RedisAddr != "",
	})
	if err != nil {
		logger.Log.Warn().Err(err).Msg("redis unavailable, status mirror disabled")
		c, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	return c
}

func splitAddr(addr string) (host, port string) {
	if addr == "" {
		return "", ""
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i], addr[i+1:]
	}
	return addr, "6379"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
