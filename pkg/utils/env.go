package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads .env.<mode> and then .env; values already present in the
// process environment win. Returns an error only when neither file exists.
func LoadEnv(mode string) error {
	var files []string
	if mode != "" {
		files = append(files, ".env."+mode)
	}
	files = append(files, ".env")

	loaded := 0
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("no env file found (tried %s)", strings.Join(files, ", "))
	}
	return nil
}

// GetEnv returns the trimmed value of key
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func GetStringOrDefault(key, fallback string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return fallback
}

// GetIntEnv returns key as int64, zero when unset or malformed
func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

func GetIntOrDefault(key string, fallback int) int {
	raw := GetEnv(key)
	if raw == "" {
		return fallback
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return fallback
	}
	return v
}

func GetBoolOrDefault(key string, fallback bool) bool {
	raw := GetEnv(key)
	if raw == "" {
		return fallback
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		return fallback
	}
	return v
}

// GetDurationOrDefault accepts Go durations ("5s") or bare integers as seconds
func GetDurationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := GetEnv(key)
	if raw == "" {
		return fallback
	}
	if n, err := cast.ToInt64E(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	v, err := cast.ToDurationE(raw)
	if err != nil {
		return fallback
	}
	return v
}
