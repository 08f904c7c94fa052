// Package storage persists users, per-usage-point settings and the fetched
// reading payloads. Two backends are provided: Firestore for hosted
// deployments and SQLite for single-binary self-hosting.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/loadcurve/loadcurve/pkg/types"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrSettingsNotFound = errors.New("settings not found")
	ErrPayloadNotFound  = errors.New("payload not found")
)

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Users
	GetUser(ctx context.Context, userID string) (types.User, error)
	CreateUser(ctx context.Context, user types.User) error
	UpdateUser(ctx context.Context, user types.User) error
	ListUsers(ctx context.Context) ([]types.User, error)

	// Settings per usage point
	GetSettings(ctx context.Context, usagePointID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, usagePointID string, settings types.Settings, version int) error

	// Reading payloads, the persisted fetch cache. SetReadingPayload
	// overwrites any payload with the same kind and range start.
	SetReadingPayload(ctx context.Context, payload types.ReadingPayload) error
	GetReadingPayload(ctx context.Context, key types.PayloadKey) (*types.ReadingPayload, error)
	GetReadingPayloads(ctx context.Context, usagePointID string) ([]types.ReadingPayload, error)
	GetLatestReadingTime(ctx context.Context, usagePointID string) (time.Time, error)
	// PruneReadingPayloads removes payloads whose range ends before the
	// given time and returns how many were removed.
	PruneReadingPayloads(ctx context.Context, usagePointID string, before time.Time) (int, error)

	// Feedback
	InsertFeedback(ctx context.Context, feedback types.Feedback) error
	ListFeedback(ctx context.Context) ([]types.Feedback, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
