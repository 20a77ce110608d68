package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RELGRAPH_TRANSPORT", "RELGRAPH_STORE", "KAFKA_BROKERS", "TRAVERSAL_MAX_NODES"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 1000, cfg.TraversalMaxNodes)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELGRAPH_STORE", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_CONSUMER_ENABLED", "true")
	t.Setenv("CONFLICT_RETRIES", "7")
	t.Setenv("TRAVERSAL_MAX_NODES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, 7, cfg.ConflictRetries)
	assert.Equal(t, 1000, cfg.TraversalMaxNodes)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Transport: "http", Store: StoreSQLite, DataDir: "/tmp/x",
			TraversalMaxNodes: 10, ConflictRetries: 0,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad transport", func(c *Config) { c.Transport = "grpc" }, "unknown transport"},
		{"bad store", func(c *Config) { c.Store = "redis" }, "unknown store"},
		{"sqlite without dir", func(c *Config) { c.DataDir = "" }, "RELGRAPH_DATA_DIR"},
		{"neo4j without uri", func(c *Config) { c.Store = StoreNeo4j }, "NEO4J_URI"},
		{"kafka without topic", func(c *Config) {
			c.KafkaEnabled = true
			c.KafkaBrokers = []string{"k:9092"}
			c.KafkaGroupID = "g"
		}, "KAFKA_TOPIC"},
		{"zero node cap", func(c *Config) { c.TraversalMaxNodes = 0 }, "TRAVERSAL_MAX_NODES"},
		{"oauth without resource", func(c *Config) { c.OAuthServerURL = "https://auth.example.com" }, "MCP_RESOURCE_URL"},
		{"negative retries", func(c *Config) { c.ConflictRetries = -1 }, "CONFLICT_RETRIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
