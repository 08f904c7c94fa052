package main

import (
	"context"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/levenlabs/go-lflag"
	"github.com/loadcurve/loadcurve/pkg/aggregate"
	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/meter"
	"github.com/loadcurve/loadcurve/pkg/storage"
	"github.com/loadcurve/loadcurve/pkg/types"
)

// fixture is the TOML file describing what to seed. Example:
//
//	[user]
//	id = "seed-user"
//	email = "dev@example.com"
//
//	[[usage_points]]
//	id = "12345678901234"
//	name = "Home"
//	offpeak_hours = "HC (22H00-6H00)"
//	days = 365
type fixture struct {
	User struct {
		ID    string `toml:"id"`
		Email string `toml:"email"`
	} `toml:"user"`
	UsagePoints []fixtureUsagePoint `toml:"usage_points"`
}

type fixtureUsagePoint struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	OffpeakHours string `toml:"offpeak_hours"`
	Days         int    `toml:"days"`
}

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	fixturePath := lflag.String("fixture", "seed.toml", "Path to the TOML fixture describing users and usage points")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	var fx fixture
	if _, err := toml.DecodeFile(*fixturePath, &fx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read fixture", "path", *fixturePath, "error", err)
		os.Exit(1)
	}
	if fx.User.ID == "" {
		fx.User.ID = "seed-user"
	}
	if fx.User.Email == "" {
		fx.User.Email = "dev@example.com"
	}
	if len(fx.UsagePoints) == 0 {
		fx.UsagePoints = []fixtureUsagePoint{{ID: "12345678901234", Name: "Home"}}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding synthetic data", "fixture", *fixturePath)

	user := types.User{ID: fx.User.ID, Email: fx.User.Email}
	mock := &meter.Mock{}
	today := truncateDay(time.Now().UTC())

	for _, up := range fx.UsagePoints {
		if up.Days <= 0 {
			up.Days = 365
		}
		if up.OffpeakHours == "" {
			up.OffpeakHours = "HC (22H00-6H00)"
		}
		if up.Name == "" {
			up.Name = up.ID
		}
		user.UsagePoints = append(user.UsagePoints, types.UserUsagePoint{ID: up.ID, Name: up.Name})

		settings := types.Settings{
			Name:              up.Name,
			Provider:          "mock",
			OffpeakHours:      up.OffpeakHours,
			MinReadingsPerDay: types.DefaultMinReadingsPerDay,
			ActivationDate:    today.AddDate(0, 0, -up.Days),
		}
		if err := s.SetSettings(ctx, up.ID, settings, types.CurrentSettingsVersion); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to write settings", "usagePointID", up.ID, "error", err)
			os.Exit(1)
		}

		// write payloads in the same week-sized ranges the sync walk uses,
		// so a later real sync sees them as covered
		lowerBound := today.AddDate(0, 0, -up.Days)
		var weeks int
		for offset := 0; ; offset++ {
			start, end := aggregate.WeekWindow(today, offset)
			if end.Before(lowerBound) {
				break
			}
			if start.Before(lowerBound) {
				start = lowerBound
			}
			curve, err := mock.GetLoadCurve(ctx, up.ID, types.Credentials{}, start, end)
			if err == nil {
				err = s.SetReadingPayload(ctx, curve)
			}
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed load curve", "usagePointID", up.ID, "error", err)
				os.Exit(1)
			}
			daily, err := mock.GetDailyConsumption(ctx, up.ID, types.Credentials{}, start, end)
			if err == nil {
				err = s.SetReadingPayload(ctx, daily)
			}
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed daily totals", "usagePointID", up.ID, "error", err)
				os.Exit(1)
			}
			weeks++
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded usage point", "usagePointID", up.ID, "weeks", weeks)
	}

	if err := s.CreateUser(ctx, user); err != nil {
		// already exists from an earlier run, keep the points in sync
		if uerr := s.UpdateUser(ctx, user); uerr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to write user", "error", err)
			os.Exit(1)
		}
	}

	if err := s.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete", "usagePoints", len(fx.UsagePoints))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
