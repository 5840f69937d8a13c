package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// TrainerHostConfig holds the SSH credentials for the remote training host
// used by the fine-tune evaluation path.
type TrainerHostConfig struct {
	Host     string
	Username string
	Password string
}

var loadOnce sync.Once

// LoadEnv loads environment variables from a .env file in the working
// directory. Missing files are not an error; real environment variables
// always win.
func LoadEnv() {
	loadOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	})
}

func GetString(key, fallback string) string {
	LoadEnv()
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func GetInt(key string, fallback int) int {
	LoadEnv()
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func GetFloat(key string, fallback float64) float64 {
	LoadEnv()
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func GetBool(key string, fallback bool) bool {
	LoadEnv()
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func GetDuration(key string, fallback time.Duration) time.Duration {
	LoadEnv()
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// GetDataDir returns the application data directory, creating it if needed.
func GetDataDir() string {
	dir := GetString("NASENV_DATA_DIR", "")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".nasenv")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: could not create data directory %s: %v", dir, err)
	}
	return dir
}

func GetLogLevel() string {
	return GetString("NASENV_LOG_LEVEL", "info")
}

func GetHostPort() int {
	return GetInt("NASENV_PORT", 8890)
}

func GetPredictorURL() string {
	return GetString("NASENV_PREDICTOR_URL", "")
}

func GetTrainerHost() string {
	return GetString("TRAINER_HOST", "")
}

func GetTrainerUsername() string {
	return GetString("TRAINER_USERNAME", "root")
}

func GetTrainerPassword() string {
	return GetString("TRAINER_PASSWORD", "")
}

// MustGetTrainerHostConfig returns the remote trainer credentials, panicking
// when the host or password is missing. Only the remote evaluation path
// calls this.
func MustGetTrainerHostConfig() TrainerHostConfig {
	cfg := TrainerHostConfig{
		Host:     GetTrainerHost(),
		Username: GetTrainerUsername(),
		Password: GetTrainerPassword(),
	}
	if cfg.Host == "" || cfg.Password == "" {
		panic("TRAINER_HOST and TRAINER_PASSWORD must be set in .env file")
	}
	return cfg
}
