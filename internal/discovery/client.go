package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

// Config configures the discovery HTTP client. The discovery API is a
// flaky, rate-limited dependency: retries are bounded and a circuit breaker
// stops hammering it when it is down.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns sensible defaults for the discovery client.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// Client queries the discovery API for live-broadcast status.
type Client struct {
	cfg      Config
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
}

func NewClient(cfg Config, logger logging.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			switch resp.StatusCode {
			case http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout,
				http.StatusTooManyRequests:
				return true
			}
			return false
		}).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"from_state": fmt.Sprint(event.OldState),
				"to_state":   fmt.Sprint(event.NewState),
			}).Warn("Discovery circuit breaker state change")
		}).
		Build()

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		executor: failsafe.With(retry, breaker),
		logger:   logger,
	}
}

type liveStatusResponse struct {
	IsLive         bool   `json:"is_live"`
	ViewerCount    int    `json:"viewer_count"`
	FrameSourceRef string `json:"frame_source_ref"`
}

// GetLiveStatus reports whether the target currently has an active
// broadcast. Errors here are transient by taxonomy: callers log and move on
// to the next target.
func (c *Client) GetLiveStatus(ctx context.Context, target string) (models.LiveStatus, error) {
	endpoint := fmt.Sprintf("%s/v1/streams/%s/live", c.cfg.BaseURL, url.PathEscape(target))

	resp, err := c.executor.Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		return models.LiveStatus{}, fmt.Errorf("discovery request for %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown target is simply not live.
		return models.LiveStatus{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return models.LiveStatus{}, fmt.Errorf("discovery returned %d for %s", resp.StatusCode, target)
	}

	var body liveStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.LiveStatus{}, fmt.Errorf("decode discovery response: %w", err)
	}

	return models.LiveStatus{
		IsLive:         body.IsLive,
		ViewerCount:    body.ViewerCount,
		FrameSourceRef: body.FrameSourceRef,
	}, nil
}
