package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-relay/internal/chat"
	"github.com/i474232898/weather-relay/internal/weather"
)

var validate = validator.New()

// now is the clock used for astronomy enrichment.
var now = time.Now

// WeatherService is the weather side of the API.
type WeatherService interface {
	FetchForecast(ctx context.Context, req weather.ForecastRequest) (weather.WeatherSnapshot, error)
	ValidateLocation(ctx context.Context, query weather.LocationQuery) (weather.LocationInfo, error)
	SearchLocations(ctx context.Context, prefix string) ([]weather.SearchResult, error)
	HourlyForecast(ctx context.Context, query weather.LocationQuery, date string) (weather.HourlyForecast, error)
	PeekForecast(query weather.LocationQuery) (weather.WeatherSnapshot, bool)
	FetchBulk(ctx context.Context, queries []weather.LocationQuery, units weather.Units) weather.BulkFetchResult
	History(ctx context.Context, query weather.LocationQuery, days int) (weather.WeatherHistory, error)
	LocateIP(ctx context.Context, ip string) (weather.IPLocation, error)
}

// ChatRelay forwards chat turns to the LLM backend.
type ChatRelay interface {
	Run(ctx context.Context, turn chat.Turn, emit func(chat.StreamEvent) error) chat.State
	Complete(ctx context.Context, turn chat.Turn) (string, error)
}

// ChatInfo describes the chat backend without exposing its credentials.
type ChatInfo struct {
	Configured bool
	HasAPIKey  bool
	Provider   string
	Endpoint   string
	Model      string
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. Chat streams outlive
// their handler and run under ctx, so cancelling it stops them.
func RegisterRoutes(ctx context.Context, app *fiber.App, service WeatherService, relay ChatRelay, info ChatInfo) {
	api := app.Group("/api")

	api.Get("/validate-location", func(c *fiber.Ctx) error {
		q := weather.LocationQuery(c.Query("location"))
		if q.IsEmpty() {
			return fiber.NewError(fiber.StatusBadRequest, "location parameter is required")
		}

		loc, err := service.ValidateLocation(c.UserContext(), q)
		if err != nil {
			if errors.Is(err, weather.ErrLocationNotFound) {
				return c.JSON(fiber.Map{"valid": false})
			}
			return weatherError(err)
		}
		return c.JSON(fiber.Map{"valid": true, "location": loc})
	})

	api.Get("/search-locations", func(c *fiber.Ctx) error {
		results, err := service.SearchLocations(c.UserContext(), c.Query("q"))
		if err != nil {
			return weatherError(err)
		}
		return c.JSON(results)
	})

	api.Get("/detailed-forecast", func(c *fiber.Ctx) error {
		q := forecastQuery{
			Location: strings.TrimSpace(c.Query("location")),
			Days:     c.QueryInt("days", weather.DefaultForecastDays),
			Units:    weather.ParseUnits(c.Query("tempUnit", c.Query("units"))),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snap, err := service.FetchForecast(c.UserContext(), weather.ForecastRequest{
			Query: weather.LocationQuery(q.Location),
			Days:  q.Days,
			Units: q.Units,
		})
		if err != nil {
			return weatherError(err)
		}
		return c.JSON(Enrich(snap, now()))
	})

	api.Get("/hourly-forecast", func(c *fiber.Ctx) error {
		q := hourlyQuery{
			Location: strings.TrimSpace(c.Query("location")),
			Date:     strings.TrimSpace(c.Query("date")),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "location and date (YYYY-MM-DD) parameters are required")
		}

		hf, err := service.HourlyForecast(c.UserContext(), weather.LocationQuery(q.Location), q.Date)
		if err != nil {
			return weatherError(err)
		}
		return c.JSON(hf)
	})

	api.Get("/history", func(c *fiber.Ctx) error {
		q := historyQuery{
			Location: strings.TrimSpace(c.Query("location")),
			Days:     c.QueryInt("days", weather.DefaultHistoryDays),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		h, err := service.History(c.UserContext(), weather.LocationQuery(q.Location), q.Days)
		if err != nil {
			return weatherError(err)
		}
		return c.JSON(h)
	})

	api.Get("/ip-location", func(c *fiber.Ctx) error {
		ip := clientIP(c)
		loc, err := service.LocateIP(c.UserContext(), ip)
		if err != nil {
			return weatherError(err)
		}

		resp := ipLocationResponse{IPLocation: loc}
		if loc.Location.Name != "" {
			snap, err := service.FetchForecast(c.UserContext(), weather.ForecastRequest{
				Query: weather.LocationQuery(loc.Location.Name),
				Days:  1,
			})
			if err != nil {
				log.Printf("DEBUG: no weather for detected location %q: %v", loc.Location.Name, err)
			} else {
				resp.Current = snap.Current
			}
		}
		return c.JSON(resp)
	})

	api.Post("/weather/bulk", func(c *fiber.Ctx) error {
		var req bulkRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "locations must be a non-empty list")
		}

		queries := make([]weather.LocationQuery, len(req.Locations))
		for i, l := range req.Locations {
			queries[i] = weather.LocationQuery(l)
		}

		res := service.FetchBulk(c.UserContext(), queries, weather.ParseUnits(req.TempUnit))
		at := now()
		items := make([]bulkItem, len(res))
		for i, r := range res {
			items[i] = bulkItem{Location: string(r.Query), Success: r.OK()}
			if r.OK() {
				e := Enrich(*r.Snapshot, at)
				items[i].Data = &e
				continue
			}
			items[i].Error = &itemError{Code: weather.Reason(r.Err), Message: r.Err.Error()}
		}
		return c.JSON(items)
	})

	api.Post("/chat/completions", func(c *fiber.Ctx) error {
		var req chatRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		req.Message = strings.TrimSpace(req.Message)
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "message is required")
		}

		turn := chat.Turn{
			Message: req.Message,
			Context: chat.BuildContext(weather.LocationQuery(req.Context.CurrentLocation), req.Context.Locations, service.PeekForecast),
		}

		if req.Stream != nil && !*req.Stream {
			content, err := relay.Complete(c.UserContext(), turn)
			if err != nil {
				return fiber.NewError(fiber.StatusBadGateway, err.Error())
			}
			return c.JSON(fiber.Map{"content": content})
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		// The writer runs after the handler returns; it must not touch c.
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			state := relay.Run(ctx, turn, func(e chat.StreamEvent) error {
				if err := chat.WriteEvent(w, e); err != nil {
					return err
				}
				return w.Flush()
			})
			if _, err := w.Write(chat.DoneSentinel); err == nil {
				_ = w.Flush()
			}
			log.Printf("DEBUG: chat stream finished in state %s", state)
		})
		return nil
	})

	api.Get("/chat/config", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"apiKey":     info.HasAPIKey,
			"configured": info.Configured,
			"provider":   info.Provider,
			"endpoint":   info.Endpoint,
			"deployment": info.Model,
		})
	})
}

// weatherError maps the weather error taxonomy to an HTTP error.
func weatherError(err error) error {
	switch {
	case errors.Is(err, weather.ErrLocationNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, weather.ErrMissingCredentials):
		return fiber.NewError(fiber.StatusServiceUnavailable, "weather provider credentials are not configured")
	case errors.Is(err, weather.ErrNotSupported):
		return fiber.NewError(fiber.StatusNotImplemented, err.Error())
	case errors.Is(err, weather.ErrMalformedPayload):
		return fiber.NewError(fiber.StatusBadGateway, "weather provider returned an unexpected response")
	default:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}

type forecastQuery struct {
	Location string `validate:"required"`
	Days     int    `validate:"min=1,max=14"`
	Units    weather.Units
}

type hourlyQuery struct {
	Location string `validate:"required"`
	Date     string `validate:"required,datetime=2006-01-02"`
}

// clientIP picks the address to geolocate: an explicit ip query parameter, then
// the first X-Forwarded-For hop, then the peer address. Loopback and private
// addresses come back empty so the vendor uses the address it sees.
func clientIP(c *fiber.Ctx) string {
	candidate := strings.TrimSpace(c.Query("ip"))
	if candidate == "" {
		if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
			candidate = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	if candidate == "" {
		candidate = c.IP()
	}

	ip := net.ParseIP(candidate)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}

type historyQuery struct {
	Location string `validate:"required"`
	Days     int    `validate:"min=1,max=7"`
}

type ipLocationResponse struct {
	weather.IPLocation
	Current *weather.Current `json:"current,omitempty"`
}

type bulkRequest struct {
	Locations []string `json:"locations" validate:"required,min=1"`
	TempUnit  string   `json:"tempUnit"`
}

type itemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type bulkItem struct {
	Location string            `json:"location"`
	Success  bool              `json:"success"`
	Data     *EnrichedForecast `json:"data,omitempty"`
	Error    *itemError        `json:"error,omitempty"`
}

type chatRequest struct {
	Message string `json:"message" validate:"required"`
	Context struct {
		CurrentLocation string                `json:"currentLocation"`
		Locations       []chat.RecentLocation `json:"locations"`
	} `json:"context"`
	Stream *bool `json:"stream"`
}
