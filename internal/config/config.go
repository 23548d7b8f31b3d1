package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-relay/internal/common"
)

type AppConfig struct {
	Port string

	// Weather vendor.
	WeatherProvider   string // "weatherapi" or "openmeteo"
	WeatherAPIKey     string
	WeatherAPIBaseURL string
	HTTPTimeout       time.Duration
	MaxRetries        int

	// Cache namespaces.
	ForecastTTL   time.Duration
	LocationTTL   time.Duration
	SearchTTL     time.Duration
	HistoryTTL    time.Duration
	MaxEntries    int // 0 = unbounded
	SweepInterval time.Duration

	// Bulk fetch.
	BulkConcurrency int // 0 = unbounded
	BulkItemTimeout time.Duration

	// Cache warming.
	WarmLocations []string
	WarmInterval  time.Duration

	Chat ChatConfig
}

// ChatConfig holds the LLM backend settings. Keys are never logged or served.
type ChatConfig struct {
	Provider string // "azure" or "openai"

	AzureAPIKey     string
	AzureEndpoint   string
	AzureAPIVersion string
	AzureDeployment string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// APIKey returns the key of the selected provider.
func (c ChatConfig) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AzureAPIKey
}

// Endpoint returns the base URL of the selected provider.
func (c ChatConfig) Endpoint() string {
	if c.Provider == "openai" {
		return c.OpenAIBaseURL
	}
	return c.AzureEndpoint
}

// Model returns the model name, or the deployment name on Azure.
func (c ChatConfig) Model() string {
	if c.Provider == "openai" {
		return c.OpenAIModel
	}
	return c.AzureDeployment
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")

	cfg.WeatherProvider = strings.ToLower(getenvDefault("WEATHER_PROVIDER", "weatherapi"))
	switch cfg.WeatherProvider {
	case "weatherapi", "openmeteo":
	default:
		return nil, fmt.Errorf("invalid WEATHER_PROVIDER %q: want weatherapi or openmeteo", cfg.WeatherProvider)
	}
	cfg.WeatherAPIKey = strings.TrimSpace(common.FirstNonEmpty(os.Getenv("WEATHER_API_KEY"), os.Getenv("WEATHERAPI_API_KEY")))
	cfg.WeatherAPIBaseURL = getenvDefault("WEATHER_API_BASE_URL", "https://api.weatherapi.com/v1")
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.MaxRetries = getenvInt("UPSTREAM_MAX_RETRIES", 2)
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid UPSTREAM_MAX_RETRIES: must not be negative")
	}

	if cfg.ForecastTTL, err = getenvDuration("CACHE_FORECAST_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LocationTTL, err = getenvDuration("CACHE_LOCATION_TTL", 60*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SearchTTL, err = getenvDuration("CACHE_SEARCH_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HistoryTTL, err = getenvDuration("CACHE_HISTORY_TTL", 60*time.Minute); err != nil {
		return nil, err
	}
	cfg.MaxEntries = getenvInt("CACHE_MAX_ENTRIES", 0)
	if cfg.SweepInterval, err = getenvDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	cfg.BulkConcurrency = getenvInt("BULK_CONCURRENCY", 0)
	if cfg.BulkItemTimeout, err = getenvDuration("BULK_ITEM_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	cfg.WarmLocations = common.SplitList(os.Getenv("WARM_LOCATIONS"))
	if cfg.WarmInterval, err = getenvDuration("WARM_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	chat := ChatConfig{
		Provider:        strings.ToLower(getenvDefault("CHAT_PROVIDER", "azure")),
		AzureAPIKey:     strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")),
		AzureEndpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureAPIVersion: getenvDefault("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		AzureDeployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:   getenvDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:     getenvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		MaxTokens:       getenvInt("CHAT_MAX_TOKENS", 500),
	}
	switch chat.Provider {
	case "azure", "openai":
	default:
		return nil, fmt.Errorf("invalid CHAT_PROVIDER %q: want azure or openai", chat.Provider)
	}
	if chat.Temperature, err = getenvFloat("CHAT_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	if chat.Timeout, err = getenvDuration("CHAT_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	cfg.Chat = chat

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
