package storagemock

import (
	"context"
	"time"

	"github.com/loadcurve/loadcurve/pkg/storage"
	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetUser(ctx context.Context, userID string) (types.User, error) {
	args := m.Called(ctx, userID)
	if len(args) > 0 {
		return args.Get(0).(types.User), args.Error(1)
	}
	return types.User{}, nil
}

func (m *MockDatabase) CreateUser(ctx context.Context, user types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockDatabase) UpdateUser(ctx context.Context, user types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockDatabase) ListUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.User), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetSettings(ctx context.Context, usagePointID string) (types.Settings, int, error) {
	args := m.Called(ctx, usagePointID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, usagePointID string, settings types.Settings, version int) error {
	args := m.Called(ctx, usagePointID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) SetReadingPayload(ctx context.Context, payload types.ReadingPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockDatabase) GetReadingPayload(ctx context.Context, key types.PayloadKey) (*types.ReadingPayload, error) {
	args := m.Called(ctx, key)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.ReadingPayload), args.Error(1)
}

func (m *MockDatabase) GetReadingPayloads(ctx context.Context, usagePointID string) ([]types.ReadingPayload, error) {
	args := m.Called(ctx, usagePointID)
	if len(args) > 0 {
		return args.Get(0).([]types.ReadingPayload), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestReadingTime(ctx context.Context, usagePointID string) (time.Time, error) {
	args := m.Called(ctx, usagePointID)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) PruneReadingPayloads(ctx context.Context, usagePointID string, before time.Time) (int, error) {
	args := m.Called(ctx, usagePointID, before)
	return args.Int(0), args.Error(1)
}

func (m *MockDatabase) InsertFeedback(ctx context.Context, feedback types.Feedback) error {
	args := m.Called(ctx, feedback)
	return args.Error(0)
}

func (m *MockDatabase) ListFeedback(ctx context.Context) ([]types.Feedback, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Feedback), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
