package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/weather-relay/internal/api/http"
	"github.com/i474232898/weather-relay/internal/chat"
	"github.com/i474232898/weather-relay/internal/config"
	"github.com/i474232898/weather-relay/internal/llm"
	"github.com/i474232898/weather-relay/internal/scheduler"
	"github.com/i474232898/weather-relay/internal/store"
	"github.com/i474232898/weather-relay/internal/weather"
	"github.com/i474232898/weather-relay/internal/weather/providers"
)

var (
	forecastDays  int
	forecastUnits string
)

var rootCmd = &cobra.Command{
	Use:          "weather-relay",
	Short:        "Cached weather API with a streaming chat relay",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var forecastCmd = &cobra.Command{
	Use:   "forecast <location>",
	Short: "Fetch one enriched forecast and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runForecast,
}

func init() {
	forecastCmd.Flags().IntVar(&forecastDays, "days", weather.DefaultForecastDays, "number of forecast days")
	forecastCmd.Flags().StringVar(&forecastUnits, "units", "c", "temperature unit (c or f)")
	rootCmd.AddCommand(serveCmd, forecastCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// components is the service graph shared by every command.
type components struct {
	cfg     *config.AppConfig
	cache   *store.MemoryStore
	weather *weather.Service
	llm     *llm.Client
	relay   *chat.Relay
}

func buildComponents(cfg *config.AppConfig) *components {
	// Shared HTTP client for outbound weather calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	cache := store.NewMemoryStore(store.WithMaxEntries(cfg.MaxEntries))

	svc := weather.NewService(cache, newProvider(cfg, httpClient), weather.Config{
		ForecastTTL:     cfg.ForecastTTL,
		ValidationTTL:   cfg.LocationTTL,
		SearchTTL:       cfg.SearchTTL,
		HistoryTTL:      cfg.HistoryTTL,
		CallTimeout:     cfg.HTTPTimeout,
		BulkConcurrency: cfg.BulkConcurrency,
		BulkItemTimeout: cfg.BulkItemTimeout,
	})

	// Streams can outlive any fixed client timeout; the relay bounds each turn.
	client := llm.New(llm.Config{
		Provider:        cfg.Chat.Provider,
		APIKey:          cfg.Chat.APIKey(),
		BaseURL:         cfg.Chat.Endpoint(),
		Model:           cfg.Chat.Model(),
		AzureAPIVersion: cfg.Chat.AzureAPIVersion,
		HTTPClient:      &http.Client{},
	})
	if !client.Configured() {
		log.Printf("INFO: chat backend %q is not configured; chat requests will fail", client.Provider())
	}

	relay := chat.NewRelay(client, chat.RelayConfig{
		Temperature: cfg.Chat.Temperature,
		MaxTokens:   cfg.Chat.MaxTokens,
		Timeout:     cfg.Chat.Timeout,
	})

	return &components{cfg: cfg, cache: cache, weather: svc, llm: client, relay: relay}
}

func newProvider(cfg *config.AppConfig, client *http.Client) weather.Provider {
	backoff := providers.DefaultBackoff
	backoff.MaxRetries = cfg.MaxRetries

	switch cfg.WeatherProvider {
	case "openmeteo":
		return providers.NewOpenMeteoProvider(client, providers.WithOpenMeteoBackoff(backoff))
	default:
		if cfg.WeatherAPIKey == "" {
			log.Println("INFO: WEATHER_API_KEY is not set; weather requests will fail")
		}
		return providers.NewWeatherAPIProvider(client, cfg.WeatherAPIKey,
			providers.WithWeatherAPIBaseURL(cfg.WeatherAPIBaseURL),
			providers.WithWeatherAPIBackoff(backoff),
		)
	}
}

// newApp builds the HTTP app. Chat streams in flight are cancelled with ctx.
func newApp(ctx context.Context, c *components) *fiber.App {
	writeTimeout := time.Duration(0)
	if c.cfg.Chat.Timeout > 0 {
		writeTimeout = c.cfg.Chat.Timeout + 10*time.Second
	}

	app := fiber.New(fiber.Config{
		AppName:               "weather-relay",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          writeTimeout,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"status":       "ok",
			"service":      "weather-relay",
			"provider":     c.weather.ProviderName(),
			"cacheEntries": c.cache.Len(),
		})
	})

	httpapi.RegisterRoutes(ctx, app, c.weather, c.relay, httpapi.ChatInfo{
		Configured: c.llm.Configured(),
		HasAPIKey:  c.cfg.Chat.APIKey() != "",
		Provider:   c.llm.Provider(),
		Endpoint:   c.llm.Endpoint(),
		Model:      c.llm.Model(),
	})
	return app
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c := buildComponents(cfg)

	// Periodic sweep of expired entries and cache warming.
	sched := scheduler.New(scheduler.Options{
		SweepInterval: cfg.SweepInterval,
		WarmInterval:  cfg.WarmInterval,
		WarmLocations: cfg.WarmLocations,
	}, c.cache, c.weather)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := newApp(cmd.Context(), c)

	go func() {
		log.Printf("DEBUG: listening on :%s (weather provider %s)", cfg.Port, c.weather.ProviderName())
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	<-cmd.Context().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}

func runForecast(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return printForecast(cmd, buildComponents(cfg).weather, args[0])
}

func printForecast(cmd *cobra.Command, svc *weather.Service, location string) error {
	snap, err := svc.FetchForecast(cmd.Context(), weather.ForecastRequest{
		Query: weather.LocationQuery(location),
		Days:  forecastDays,
		Units: weather.ParseUnits(forecastUnits),
	})
	if err != nil {
		return fmt.Errorf("forecast for %q: %w", location, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(httpapi.Enrich(snap, time.Now()))
}
