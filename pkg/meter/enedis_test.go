package meter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCreds() types.Credentials {
	return types.Credentials{
		Enedis: &types.EnedisCredentials{AccessToken: "test-token"},
	}
}

func TestEnedis(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)

	t.Run("GetLoadCurve_Parsing", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			assert.Equal(t, "12345678901234", r.URL.Query().Get("usage_point_id"))
			assert.Equal(t, "2025-06-01", r.URL.Query().Get("start"))
			// exclusive upstream bound
			assert.Equal(t, "2025-06-08", r.URL.Query().Get("end"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"meter_reading": {
					"usage_point_id": "12345678901234",
					"reading_type": {"unit": "W", "interval_length": "P30M"},
					"interval_reading": [
						{"value": "1000", "date": "2025-06-01 00:30:00"},
						{"value": "1250", "date": "2025-06-01 01:00:00"}
					]
				}
			}`))
		}))
		defer ts.Close()

		e := &Enedis{apiURL: ts.URL, client: ts.Client()}
		p, err := e.GetLoadCurve(context.Background(), "12345678901234", testCreds(), start, end)
		require.NoError(t, err)

		assert.Equal(t, types.PayloadKindLoadCurve, p.Kind)
		assert.Equal(t, "W", p.Unit)
		assert.Equal(t, "P30M", p.IntervalLength)
		require.Len(t, p.Readings, 2)
		assert.Equal(t, "1000", p.Readings[0].Value)
		assert.True(t, p.RangeStart.Equal(start))
		assert.True(t, p.RangeEnd.Equal(end))
	})

	t.Run("NoData", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no_data_found","error_description":"The couple usage point id / start date is not found"}`))
		}))
		defer ts.Close()

		e := &Enedis{apiURL: ts.URL, client: ts.Client()}
		_, err := e.GetLoadCurve(context.Background(), "12345678901234", testCreds(), start, end)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("RetryOn429", func(t *testing.T) {
		var requests atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{"meter_reading":{"reading_type":{"unit":"Wh","interval_length":"P1D"},"interval_reading":[{"value":"24000","date":"2025-06-01"}]}}`))
		}))
		defer ts.Close()

		e := &Enedis{apiURL: ts.URL, client: ts.Client()}
		p, err := e.GetDailyConsumption(context.Background(), "12345678901234", testCreds(), start, end)
		require.NoError(t, err)
		assert.Equal(t, int32(2), requests.Load())
		assert.Equal(t, types.PayloadKindDaily, p.Kind)
		require.Len(t, p.Readings, 1)
	})

	t.Run("NoRetryOn403", func(t *testing.T) {
		var requests atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
		}))
		defer ts.Close()

		e := &Enedis{apiURL: ts.URL, client: ts.Client()}
		_, err := e.GetLoadCurve(context.Background(), "12345678901234", testCreds(), start, end)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoData)
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		e := &Enedis{apiURL: "http://example.com", client: &http.Client{}}
		_, err := e.GetLoadCurve(context.Background(), "12345678901234", types.Credentials{}, start, end)
		assert.ErrorContains(t, err, "missing enedis credentials")
	})

	t.Run("RateLimit", func(t *testing.T) {
		e := &Enedis{minInterval: 20 * time.Millisecond}

		began := time.Now()
		require.NoError(t, e.enforceRateLimit(context.Background()))
		require.NoError(t, e.enforceRateLimit(context.Background()))
		assert.GreaterOrEqual(t, time.Since(began), 20*time.Millisecond)
	})

	t.Run("RateLimitCanceled", func(t *testing.T) {
		e := &Enedis{minInterval: time.Hour}
		require.NoError(t, e.enforceRateLimit(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, e.enforceRateLimit(ctx), context.Canceled)
	})
}

func TestEnedisValidate(t *testing.T) {
	e := &Enedis{}
	assert.ErrorContains(t, e.Validate(), "enedis-api-url is required")

	e.apiURL = "https://gw.ext.prod.api.enedis.fr"
	assert.NoError(t, e.Validate())
}
