package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/loadcurve/loadcurve/pkg/common"
	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/types"
)

const (
	enedisLoadCurvePath = "metering_data_clc/v5/consumption_load_curve"
	enedisDailyPath     = "metering_data_dc/v5/daily_consumption"

	// enedisDateLayout is the format the gateway expects for range bounds.
	enedisDateLayout = "2006-01-02"

	enedisMaxAttempts = 3
)

// Enedis implements the Provider interface against an Enedis-style
// consumption gateway. The gateway quota is shared across all consumers of
// the API key, so requests are spaced by a configurable minimum interval.
type Enedis struct {
	apiURL      string
	minInterval time.Duration
	client      *http.Client

	mu              sync.Mutex
	lastRequestTime time.Time
}

// configuredEnedis sets up flags for Enedis and returns the instance.
// It uses lflag to register command-line flags for configuration.
func configuredEnedis() *Enedis {
	e := &Enedis{
		client: common.HTTPClient(30 * time.Second),
	}
	apiURL := lflag.String("enedis-api-url", "https://gw.ext.prod-sandbox.api.enedis.fr", "URL for the Enedis metering gateway")
	minInterval := lflag.Duration("enedis-min-request-interval", 10*time.Second, "Minimum delay between Enedis requests")

	lflag.Do(func() {
		e.apiURL = *apiURL
		e.minInterval = *minInterval
	})

	return e
}

// Validate ensures the configuration is valid.
func (e *Enedis) Validate() error {
	if e.apiURL == "" {
		return fmt.Errorf("enedis-api-url is required")
	}
	if _, err := url.Parse(e.apiURL); err != nil {
		return fmt.Errorf("failed to parse enedis url (%s): %w", e.apiURL, err)
	}
	return nil
}

// Info implements Provider.
func (e *Enedis) Info() types.MeterProviderInfo {
	return types.MeterProviderInfo{
		ID:   "enedis",
		Name: "Enedis (Linky)",
	}
}

// meterReadingResponse is the JSON envelope returned by the gateway.
type meterReadingResponse struct {
	MeterReading struct {
		UsagePointID string `json:"usage_point_id"`
		ReadingType  struct {
			Unit           string `json:"unit"`
			IntervalLength string `json:"interval_length"`
		} `json:"reading_type"`
		IntervalReading []types.Reading `json:"interval_reading"`
	} `json:"meter_reading"`
}

// enedisError is the JSON error payload returned by the gateway.
type enedisError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// enforceRateLimit sleeps until at least minInterval has passed since the
// previous request, or returns early when the context is canceled.
func (e *Enedis) enforceRateLimit(ctx context.Context) error {
	e.mu.Lock()
	var sleep time.Duration
	if !e.lastRequestTime.IsZero() {
		if elapsed := time.Since(e.lastRequestTime); elapsed < e.minInterval {
			sleep = e.minInterval - elapsed
		}
	}
	e.lastRequestTime = time.Now().Add(sleep)
	e.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	log.Ctx(ctx).DebugContext(ctx, "rate limiting enedis request", slog.Int64("sleepMS", sleep.Milliseconds()))
	select {
	case <-time.After(sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// calculateBackoff returns the wait before the given retry attempt,
// exponential and capped at 30s. A Retry-After header takes precedence.
func calculateBackoff(resp *http.Response, attempt int) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

func (e *Enedis) fetch(ctx context.Context, path, usagePointID string, creds types.Credentials, start, end time.Time) (meterReadingResponse, error) {
	var out meterReadingResponse
	if creds.Enedis == nil || creds.Enedis.AccessToken == "" {
		return out, fmt.Errorf("missing enedis credentials")
	}

	u, err := url.Parse(e.apiURL)
	if err != nil {
		return out, fmt.Errorf("failed to parse enedis url (%s): %w", e.apiURL, err)
	}
	u = u.JoinPath(path)
	q := u.Query()
	q.Set("usage_point_id", usagePointID)
	q.Set("start", start.Format(enedisDateLayout))
	// the gateway treats end as exclusive
	q.Set("end", end.AddDate(0, 0, 1).Format(enedisDateLayout))
	u.RawQuery = q.Encode()

	for attempt := 0; attempt < enedisMaxAttempts; attempt++ {
		if err := e.enforceRateLimit(ctx); err != nil {
			return out, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return out, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+creds.Enedis.AccessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return out, fmt.Errorf("enedis request failed: %w", err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		resp.Body.Close()
		if err != nil {
			return out, fmt.Errorf("failed to read enedis response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			if err := json.Unmarshal(body, &out); err != nil {
				return out, fmt.Errorf("failed to unmarshal enedis response: %w", err)
			}
			return out, nil
		}

		var apiErr enedisError
		// the error payload is best-effort; some gateway errors are HTML
		_ = json.Unmarshal(body, &apiErr)
		if resp.StatusCode == http.StatusNotFound && apiErr.Error == "no_data_found" {
			return out, fmt.Errorf("%w: %s %s", ErrNoData, usagePointID, start.Format(enedisDateLayout))
		}

		if shouldRetry(resp.StatusCode) && attempt < enedisMaxAttempts-1 {
			backoff := calculateBackoff(resp, attempt)
			log.Ctx(ctx).WarnContext(ctx, "retrying enedis request",
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}

		return out, fmt.Errorf("enedis returned status %d: %s %s", resp.StatusCode, apiErr.Error, apiErr.ErrorDescription)
	}
	// unreachable; the loop always returns
	return out, fmt.Errorf("enedis request failed after %d attempts", enedisMaxAttempts)
}

func (e *Enedis) payload(kind, usagePointID string, start, end time.Time, resp meterReadingResponse) types.ReadingPayload {
	return types.ReadingPayload{
		UsagePointID:   usagePointID,
		Kind:           kind,
		RangeStart:     start,
		RangeEnd:       end,
		Unit:           resp.MeterReading.ReadingType.Unit,
		IntervalLength: resp.MeterReading.ReadingType.IntervalLength,
		Readings:       resp.MeterReading.IntervalReading,
	}
}

// GetLoadCurve implements Provider.
func (e *Enedis) GetLoadCurve(ctx context.Context, usagePointID string, creds types.Credentials, start, end time.Time) (types.ReadingPayload, error) {
	log.Ctx(ctx).DebugContext(
		ctx,
		"getting enedis load curve",
		slog.String("usagePointID", usagePointID),
		slog.Time("start", start),
		slog.Time("end", end),
	)
	resp, err := e.fetch(ctx, enedisLoadCurvePath, usagePointID, creds, start, end)
	if err != nil {
		return types.ReadingPayload{}, err
	}
	return e.payload(types.PayloadKindLoadCurve, usagePointID, start, end, resp), nil
}

// GetDailyConsumption implements Provider.
func (e *Enedis) GetDailyConsumption(ctx context.Context, usagePointID string, creds types.Credentials, start, end time.Time) (types.ReadingPayload, error) {
	log.Ctx(ctx).DebugContext(
		ctx,
		"getting enedis daily consumption",
		slog.String("usagePointID", usagePointID),
		slog.Time("start", start),
		slog.Time("end", end),
	)
	resp, err := e.fetch(ctx, enedisDailyPath, usagePointID, creds, start, end)
	if err != nil {
		return types.ReadingPayload{}, err
	}
	return e.payload(types.PayloadKindDaily, usagePointID, start, end, resp), nil
}
