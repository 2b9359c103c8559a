// Package config assembles the server's configuration from environment
// variables with typed helpers and defaults, failing fast at startup on
// anything the process cannot run without (key material, bind address).
package config

import (
	"crypto/ecdsa"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServerConfig is the main node's socket-boundary configuration.
type ServerConfig struct {
	WSSIP             net.IP
	WSSPort           uint16
	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration

	// PublicKeyPath points at the PEM-encoded ES256 public key of the
	// session authority; every ticket is verified against it.
	PublicKeyPath string

	LogLevel  string
	LogPretty bool
}

// WorkerNodesConfig locates the worker executables and selects the
// launch backend.
type WorkerNodesConfig struct {
	SharedNodeBinPath    string
	DedicatedNodeBinPath string

	// Backend is "process" (fork a sibling executable) or "k8s" (create
	// a worker Pod).
	Backend string

	// K8s backend settings, ignored for the process backend.
	K8sNamespace string
	K8sImage     string
}

// ServicesConfig sizes the four service-actor pools.
type ServicesConfig struct {
	PoolSizeCore     int
	PoolSizePresence int
	PoolSizeActivity int
	PoolSizeModel    int
}

// ClusterConfig holds the cross-process and ambient-store endpoints.
// NATS is required as soon as any placement other than main is used;
// Redis and Postgres are optional and degrade to local-only status
// lookups and no audit trail respectively.
type ClusterConfig struct {
	NATSURL      string
	NATSUser     string
	NATSPassword string
	RedisAddr    string
	RedisPass    string
	PostgresDSN  string
}

// Config is the full main-node configuration.
type Config struct {
	Server   ServerConfig
	Workers  WorkerNodesConfig
	Services ServicesConfig
	Cluster  ClusterConfig

	// PlacementPolicy selects where new cospaces land: "dedicated"
	// (default), "shared", "main", or "resource".
	PlacementPolicy string
}

// Load reads the full configuration from the environment.
func Load() Config {
	selfDir := executableDir()
	return Config{
		Server: ServerConfig{
			WSSIP:             getEnvIP("WSS_IP", net.IPv4zero),
			WSSPort:           uint16(getEnvInt("WSS_PORT", 27000)),
			HeartbeatTimeout:  getEnvDuration("HEARTBEAT_TIMEOUT", 180*time.Second),
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			PublicKeyPath:     os.Getenv("SESSION_PUBLIC_KEY_FILE"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogPretty:         getEnvBool("LOG_PRETTY", false),
		},
		Workers: WorkerNodesConfig{
			SharedNodeBinPath:    getEnv("SHARED_NODE_BIN", selfDir+"/realtime-worker"),
			DedicatedNodeBinPath: getEnv("DEDICATED_NODE_BIN", selfDir+"/realtime-worker"),
			Backend:              getEnv("WORKER_BACKEND", "process"),
			K8sNamespace:         getEnv("WORKER_K8S_NAMESPACE", "realtime"),
			K8sImage:             os.Getenv("WORKER_K8S_IMAGE"),
		},
		Services: ServicesConfig{
			PoolSizeCore:     getEnvInt("POOL_SIZE_CORE", 1),
			PoolSizePresence: getEnvInt("POOL_SIZE_PRESENCE", 1),
			PoolSizeActivity: getEnvInt("POOL_SIZE_ACTIVITY", 1),
			PoolSizeModel:    getEnvInt("POOL_SIZE_MODEL", 1),
		},
		Cluster: ClusterConfig{
			NATSURL:      os.Getenv("NATS_URL"),
			NATSUser:     os.Getenv("NATS_USER"),
			NATSPassword: os.Getenv("NATS_PASSWORD"),
			RedisAddr:    os.Getenv("REDIS_ADDR"),
			RedisPass:    os.Getenv("REDIS_PASSWORD"),
			PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		},
		PlacementPolicy: getEnv("PLACEMENT_POLICY", "dedicated"),
	}
}

// Validate checks the settings the process exits over when wrong.
func (c Config) Validate() error {
	if c.Server.PublicKeyPath == "" {
		return fmt.Errorf("config: SESSION_PUBLIC_KEY_FILE must be set")
	}
	if c.Server.WSSPort == 0 {
		return fmt.Errorf("config: WSS_PORT must be non-zero")
	}
	switch c.PlacementPolicy {
	case "dedicated", "shared", "main", "resource":
	default:
		return fmt.Errorf("config: unknown PLACEMENT_POLICY %q", c.PlacementPolicy)
	}
	switch c.Workers.Backend {
	case "process", "k8s":
	default:
		return fmt.Errorf("config: unknown WORKER_BACKEND %q", c.Workers.Backend)
	}
	if c.PlacementPolicy != "main" && c.Cluster.NATSURL == "" {
		return fmt.Errorf("config: NATS_URL is required for %s placement", c.PlacementPolicy)
	}
	return nil
}

// LoadPublicKey reads and parses the session authority's ES256 public
// key. Missing or unparseable key material is fatal at startup.
func (c ServerConfig) LoadPublicKey() (*ecdsa.PublicKey, error) {
	pem, err := os.ReadFile(c.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("config: read public key: %w", err)
	}
	key, err := jwt.ParseECPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("config: parse public key: %w", err)
	}
	return key, nil
}

// Addr renders the WebSocket bind address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.WSSIP, c.WSSPort)
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	for i := len(exe) - 1; i >= 0; i-- {
		if exe[i] == '/' {
			return exe[:i]
		}
	}
	return "."
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvIP(key string, defaultValue net.IP) net.IP {
	if value := os.Getenv(key); value != "" {
		if ip := net.ParseIP(value); ip != nil {
			return ip
		}
	}
	return defaultValue
}
