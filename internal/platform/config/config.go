package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var dirCmd = flag.String("dir", "", "data directory (overrides BLOCKDB_DIR)")

type Config struct {
	DirPath            string
	MaxBlockSize       int64
	DataSyncDelay      time.Duration
	StaleDataThreshold float64
	CompactDelay       time.Duration
	CachedFields       []string
}

func LoadConfig() Config {
	godotenv.Load(".env")
	cfg := Config{
		DirPath:            getString("BLOCKDB_DIR", "data"),
		MaxBlockSize:       getInt("BLOCKDB_MAX_BLOCK_SIZE", 8<<20),
		DataSyncDelay:      time.Duration(getInt("BLOCKDB_DATA_SYNC_DELAY", 1000)) * time.Millisecond,
		StaleDataThreshold: getFloat("BLOCKDB_STALE_THRESHOLD", 0.1),
		CompactDelay:       time.Duration(getInt("BLOCKDB_COMPACT_DELAY", 86400000)) * time.Millisecond,
		CachedFields:       getList("BLOCKDB_CACHED_FIELDS"),
	}
	if *dirCmd != "" {
		cfg.DirPath = *dirCmd
	}
	return cfg
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
