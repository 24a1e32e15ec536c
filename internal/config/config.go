package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC health listener

	Env string // "dev" | "prod"

	// Storage
	Store    string // "memory" | "sql"
	DBDriver string // "sqlite" | "postgres"
	DBPath   string // e.g. "./data/veriseal.db"
	DBURL    string // postgres DSN

	RegistryPath string // checkpoint registry YAML; empty = built-in route

	// Verify endpoint throttling, per client IP.
	VerifyRPS   float64 // 0 = unlimited
	VerifyBurst int

	// Audit
	RedisAddr      string // empty disables the Redis stream sink
	AuditStream    string
	AuditStreamMax int64
	AuditQueueSize int
	// AuditMemoryEntries bounds the in-process audit log used without Redis.
	AuditMemoryEntries int
	BcryptCost         int
	SeedSenderID       string
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("VERISEAL_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	store := strings.ToLower(getenvDefault("VERISEAL_STORE", "sql"))
	if store != "memory" && store != "sql" {
		store = "sql"
	}

	driver := strings.ToLower(getenvDefault("VERISEAL_DB_DRIVER", "sqlite"))
	if driver != "sqlite" && driver != "postgres" {
		driver = "sqlite"
	}

	cost := getenvInt("VERISEAL_BCRYPT_COST", 10)
	if cost < 4 || cost > 31 {
		cost = 10
	}

	return Config{
		HTTPAddr: getenvDefault("VERISEAL_HTTP_ADDR", ":8080"),
		GRPCAddr: strings.TrimSpace(os.Getenv("VERISEAL_GRPC_ADDR")),
		Env:      env,

		Store:    store,
		DBDriver: driver,
		DBPath:   getenvDefault("VERISEAL_DB_PATH", "./data/veriseal.db"),
		DBURL:    strings.TrimSpace(os.Getenv("VERISEAL_DB_URL")),

		RegistryPath: strings.TrimSpace(os.Getenv("VERISEAL_REGISTRY_PATH")),

		VerifyRPS:   getenvFloat("VERISEAL_VERIFY_RPS", 1),
		VerifyBurst: getenvInt("VERISEAL_VERIFY_BURST", 5),

		RedisAddr:          strings.TrimSpace(os.Getenv("VERISEAL_REDIS_ADDR")),
		AuditStream:        getenvDefault("VERISEAL_AUDIT_STREAM", "veriseal:audit"),
		AuditStreamMax:     int64(getenvInt("VERISEAL_AUDIT_STREAM_MAXLEN", 100000)),
		AuditQueueSize:     getenvInt("VERISEAL_AUDIT_QUEUE_SIZE", 1024),
		AuditMemoryEntries: getenvInt("VERISEAL_AUDIT_MEMORY_ENTRIES", 1000),
		BcryptCost:         cost,
		SeedSenderID:       getenvDefault("VERISEAL_SEED_SENDER_ID", "demo-sender"),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}
