// Package config loads process settings from the environment, with an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
	StoreNeo4j  = "neo4j"
)

// Config holds all application configuration
type Config struct {
	// Server
	Transport string
	Port      string
	DataDir   string
	Store     string

	// HTTP auth
	MCPBearerToken string
	MCPResourceURL string
	OAuthServerURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Kafka
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Engine
	TraversalMaxNodes int
	ConflictRetries   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Transport:         getEnv("RELGRAPH_TRANSPORT", "stdio"),
		Port:              getEnv("RELGRAPH_PORT", "8081"),
		DataDir:           getEnv("RELGRAPH_DATA_DIR", "./data"),
		Store:             getEnv("RELGRAPH_STORE", StoreSQLite),
		MCPBearerToken:    getEnv("MCP_BEARER_TOKEN", ""),
		MCPResourceURL:    getEnv("MCP_RESOURCE_URL", ""),
		OAuthServerURL:    getEnv("OAUTH_SERVER_BASE_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		Neo4jURI:          getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:         getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:     getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:     getEnv("NEO4J_DATABASE", ""),
		KafkaEnabled:      getEnvBool("KAFKA_CONSUMER_ENABLED", false),
		KafkaBrokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "crm.lifecycle"),
		KafkaGroupID:      getEnv("KAFKA_GROUP", "relgraph"),
		TraversalMaxNodes: getEnvInt("TRAVERSAL_MAX_NODES", 1000),
		ConflictRetries:   getEnvInt("CONFLICT_RETRIES", 3),
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("unknown transport %q (use stdio or http)", c.Transport)
	}

	if c.OAuthServerURL != "" && c.MCPResourceURL == "" {
		return fmt.Errorf("MCP_RESOURCE_URL is required when OAUTH_SERVER_BASE_URL is set")
	}

	switch c.Store {
	case StoreSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("RELGRAPH_DATA_DIR is required for the sqlite store")
		}
	case StoreMemory:
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j store")
		}
	default:
		return fmt.Errorf("unknown store %q (use sqlite, memory or neo4j)", c.Store)
	}

	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when the consumer is enabled")
		}
		if c.KafkaTopic == "" || c.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_TOPIC and KAFKA_GROUP are required when the consumer is enabled")
		}
	}

	if c.TraversalMaxNodes <= 0 {
		return fmt.Errorf("TRAVERSAL_MAX_NODES must be positive, got %d", c.TraversalMaxNodes)
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("CONFLICT_RETRIES must not be negative, got %d", c.ConflictRetries)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
