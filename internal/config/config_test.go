package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Server.WSSIP.String())
	assert.Equal(t, uint16(27000), cfg.Server.WSSPort)
	assert.Equal(t, 180*time.Second, cfg.Server.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 1, cfg.Services.PoolSizeCore)
	assert.Equal(t, 1, cfg.Services.PoolSizeModel)
	assert.Equal(t, "dedicated", cfg.PlacementPolicy)
	assert.Equal(t, "process", cfg.Workers.Backend)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WSS_PORT", "28100")
	t.Setenv("WSS_IP", "127.0.0.1")
	t.Setenv("POOL_SIZE_CORE", "4")
	t.Setenv("HEARTBEAT_TIMEOUT", "90s")
	t.Setenv("PLACEMENT_POLICY", "main")
	t.Setenv("LOG_PRETTY", "true")

	cfg := Load()
	assert.Equal(t, uint16(28100), cfg.Server.WSSPort)
	assert.Equal(t, "127.0.0.1", cfg.Server.WSSIP.String())
	assert.Equal(t, 4, cfg.Services.PoolSizeCore)
	assert.Equal(t, 90*time.Second, cfg.Server.HeartbeatTimeout)
	assert.Equal(t, "main", cfg.PlacementPolicy)
	assert.True(t, cfg.Server.LogPretty)
	assert.Equal(t, "127.0.0.1:28100", cfg.Server.Addr())
}

func TestValidateRequiresKeyMaterial(t *testing.T) {
	cfg := Load()
	cfg.Server.PublicKeyPath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresNATSForClusterPlacement(t *testing.T) {
	cfg := Load()
	cfg.Server.PublicKeyPath = "/keys/session.pem"
	cfg.PlacementPolicy = "dedicated"
	cfg.Cluster.NATSURL = ""
	assert.Error(t, cfg.Validate())

	cfg.PlacementPolicy = "main"
	assert.NoError(t, cfg.Validate())

	cfg.PlacementPolicy = "dedicated"
	cfg.Cluster.NATSURL = "nats://localhost:4222"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	cfg := Load()
	cfg.Server.PublicKeyPath = "/keys/session.pem"

	cfg.PlacementPolicy = "everywhere"
	assert.Error(t, cfg.Validate())

	cfg.PlacementPolicy = "main"
	cfg.Workers.Backend = "bare-metal"
	assert.Error(t, cfg.Validate())
}

func TestLoadPublicKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{
		Type: "PUBLIC KEY", Bytes: der,
	}), 0o600))

	sc := ServerConfig{PublicKeyPath: path}
	loaded, err := sc.LoadPublicKey()
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(loaded))
}

func TestLoadPublicKeyMissingFile(t *testing.T) {
	sc := ServerConfig{PublicKeyPath: "/nonexistent/key.pem"}
	_, err := sc.LoadPublicKey()
	assert.Error(t, err)
}
