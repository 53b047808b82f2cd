package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env files into the process environment. With no paths,
// ".env" is used. Variables already set are not overridden.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool accepts the forms strconv.ParseBool does, falling back otherwise.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

func (c *Config) applyEnv() {
	c.Ranker.LLM.APIKey = GetEnv("OPENAI_API_KEY", c.Ranker.LLM.APIKey)
	c.Ranker.LLM.Model = GetEnv("CLIPCANNON_LLM_MODEL", c.Ranker.LLM.Model)
	c.Ranker.LLM.BaseURL = GetEnv("CLIPCANNON_LLM_BASE_URL", c.Ranker.LLM.BaseURL)
	c.Publish.Enabled = GetEnvBool("PUBLISH_ENABLED", c.Publish.Enabled)
	c.Storage.PostgresURL = GetEnv("POSTGRES_URL", c.Storage.PostgresURL)
	c.Concurrency = GetEnvInt("CLIPCANNON_CONCURRENCY", c.Concurrency)
	c.Pipeline.AutoPipeline = GetEnvBool("AUTO_PIPELINE_ENABLED", c.Pipeline.AutoPipeline)
}
