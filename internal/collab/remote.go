package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// GatewayStatus reports the orchestration gateway's reachability.
type GatewayStatus struct {
	Status string `json:"status"` // "ONLINE" or "OFFLINE"
	Uptime string `json:"uptime,omitempty"`
}

// Gateway probes the gateway health endpoint.
type Gateway struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewGateway creates a gateway prober with a short timeout.
func NewGateway(url string, timeout time.Duration, logger zerolog.Logger) *Gateway {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &Gateway{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "collab.gateway").Logger(),
	}
}

// Probe checks gateway health. Any failure yields OFFLINE, never an error.
func (g *Gateway) Probe(ctx context.Context) GatewayStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return GatewayStatus{Status: "OFFLINE"}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug().Err(err).Msg("gateway unreachable")
		return GatewayStatus{Status: "OFFLINE"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GatewayStatus{Status: "OFFLINE"}
	}

	st := GatewayStatus{Status: "ONLINE"}
	var body struct {
		Uptime string `json:"uptime"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil {
		st.Uptime = body.Uptime
	}
	return st
}

// Weather fetches current conditions from a remote weather API. The raw JSON
// is passed through untouched — rendering belongs to the front end.
type Weather struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWeather creates a weather fetcher.
func NewWeather(url string, timeout time.Duration, logger zerolog.Logger) *Weather {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Weather{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "collab.weather").Logger(),
	}
}

// Fetch returns the raw weather JSON.
func (w *Weather) Fetch(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building weather request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading weather body: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("weather API returned invalid JSON")
	}
	return json.RawMessage(data), nil
}
