package server

import (
	"context"
	"net/http"
	"time"

	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Info() types.MeterProviderInfo {
	args := m.Called()
	if len(args) > 0 {
		return args.Get(0).(types.MeterProviderInfo)
	}
	return types.MeterProviderInfo{}
}

func (m *mockProvider) GetLoadCurve(ctx context.Context, usagePointID string, creds types.Credentials, start, end time.Time) (types.ReadingPayload, error) {
	args := m.Called(ctx, usagePointID, creds, start, end)
	if len(args) > 0 {
		return args.Get(0).(types.ReadingPayload), args.Error(1)
	}
	return types.ReadingPayload{}, nil
}

func (m *mockProvider) GetDailyConsumption(ctx context.Context, usagePointID string, creds types.Credentials, start, end time.Time) (types.ReadingPayload, error) {
	args := m.Called(ctx, usagePointID, creds, start, end)
	if len(args) > 0 {
		return args.Get(0).(types.ReadingPayload), args.Error(1)
	}
	return types.ReadingPayload{}, nil
}

// fakeVerifier returns a token verifier that accepts any token and reports
// the given identity.
func fakeVerifier(email, subject string) tokenVerifier {
	return func(ctx context.Context, rawIDToken string) (string, string, time.Time, error) {
		return email, subject, time.Now().Add(time.Hour), nil
	}
}

// authedRequest injects the context values the auth middleware would have
// set, so handlers can be tested directly.
func authedRequest(r *http.Request, user types.User, usagePointID string) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, user)
	ctx = context.WithValue(ctx, usagePointContextKey, usagePointID)
	return r.WithContext(ctx)
}
