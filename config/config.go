// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/jredh-dev/memotag/pkg/models"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Cache     CacheConfig
	Sync      SyncConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsPath string
	Database        string
	// Emulator support for integration testing
	UseEmulator  bool
	EmulatorHost string
}

type CacheConfig struct {
	Path string
}

type SyncConfig struct {
	RefreshInterval time.Duration // periodic loadItems trigger
	PageSize        int           // bound for item and message listing
}

type AuthConfig struct {
	// UseFirebase verifies Firebase ID tokens on the API when true.
	UseFirebase bool
	// SigningKey enables locally issued device tokens when set and
	// Firebase verification is off. Empty key + UseFirebase=false
	// leaves the API unauthenticated (dev mode).
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
}

// Load returns application configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Firestore: FirestoreConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			Database:        getEnv("FIRESTORE_DATABASE", "(default)"),
			UseEmulator:     getEnvBool("USE_FIRESTORE_EMULATOR", false),
			EmulatorHost:    getEnv("FIRESTORE_EMULATOR_HOST", "localhost:8081"),
		},
		Cache: CacheConfig{
			Path: getEnv("CACHE_DB_PATH", "memotag-cache.db"),
		},
		Sync: SyncConfig{
			RefreshInterval: time.Duration(getEnvInt("SYNC_REFRESH_SECONDS", 60)) * time.Second,
			PageSize:        getEnvInt("SYNC_PAGE_SIZE", 100),
		},
		Auth: AuthConfig{
			UseFirebase: getEnvBool("USE_FIREBASE_AUTH", false),
			SigningKey:  getEnv("JWT_SIGNING_KEY", ""),
			Issuer:      getEnv("JWT_ISSUER", "memotag.jredh.dev"),
			TokenTTL:    time.Duration(getEnvInt("TOKEN_TTL_HOURS", 720)) * time.Hour, // 30 days
		},
	}
}

// DefaultTemplates are the status message bodies used when the user has
// not customized the template for a category.
func DefaultTemplates() map[models.MessageType]string {
	return map[models.MessageType]string{
		models.TypeBlue:   "Started working",
		models.TypeGreen:  "Work completed",
		models.TypeYellow: "Work delayed",
		models.TypeRed:    "Problem reported",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}
