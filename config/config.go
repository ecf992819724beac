package config

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var load sync.Once

// Config returns the value of an environment variable, reading .env on first use.
func Config(key string) string {
	load.Do(func() {
		if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
			log.Printf("failed to load .env: %v", err)
		}
	})
	return os.Getenv(key)
}

// Duration parses key as a time.Duration ("5s", "1m"), falling back to def.
func Duration(key string, def time.Duration) time.Duration {
	raw := Config(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid duration %s=%q, using %s", key, raw, def)
		return def
	}
	return d
}

// Int parses key as an integer, falling back to def.
func Int(key string, def int) int {
	raw := Config(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid integer %s=%q, using %d", key, raw, def)
		return def
	}
	return n
}
