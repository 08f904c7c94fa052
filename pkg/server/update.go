package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loadcurve/loadcurve/pkg/aggregate"
	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/meter"
	"github.com/loadcurve/loadcurve/pkg/types"
)

// retentionDays bounds how far back the walk goes and how long payloads are
// kept. The upstream retains nothing older.
const retentionDays = 3 * aggregate.RollingPeriodDays

// maxNoDataAttempts bounds how many times the walk shrinks a week that the
// upstream reports no data for. Hitting the bound ends the walk; it means
// we've reached the start of the meter's history.
const maxNoDataAttempts = 7

// updateResult is the per-usage-point outcome of a sync walk.
type updateResult struct {
	UsagePointID    string `json:"usagePointID"`
	FetchedWeeks    int    `json:"fetchedWeeks"`
	SkippedWeeks    int    `json:"skippedWeeks"`
	PrunedPayloads  int    `json:"prunedPayloads"`
	ReachedDataEdge bool   `json:"reachedDataEdge,omitempty"`
	// LatestReading is the end of the newest stored payload after the walk,
	// the freshness marker shown in the dashboard footer.
	LatestReading *time.Time `json:"latestReading,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	updateSpecific, _ := ctx.Value(updateSpecificContextKey).(bool)
	user := s.getUser(r)

	requested := s.getUsagePointID(r)

	var usagePointIDs []string
	switch {
	case requested != "" && !updateSpecific:
		// access was already checked by the middleware
		usagePointIDs = []string{requested}
	case updateSpecific || s.bypassAuth || s.isAdmin(user):
		if s.singleUsagePoint != "" {
			usagePointIDs = []string{s.singleUsagePoint}
			break
		}
		users, err := s.storage.ListUsers(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to list users", slog.Any("error", err))
			writeJSONError(w, "failed to list users", http.StatusInternalServerError)
			return
		}
		seen := map[string]bool{}
		for _, u := range users {
			for _, up := range u.UsagePoints {
				if !seen[up.ID] {
					seen[up.ID] = true
					usagePointIDs = append(usagePointIDs, up.ID)
				}
			}
		}
	default:
		for _, up := range user.UsagePoints {
			usagePointIDs = append(usagePointIDs, up.ID)
		}
	}

	if len(usagePointIDs) == 0 {
		writeJSONError(w, "no usage points to update", http.StatusBadRequest)
		return
	}

	results := make([]updateResult, 0, len(usagePointIDs))
	for _, id := range usagePointIDs {
		res := s.syncUsagePoint(ctx, id)
		if res.Error != "" {
			// one failing usage point must not block the others
			log.Ctx(ctx).ErrorContext(ctx, "sync failed", slog.String("usagePointID", id), slog.String("error", res.Error))
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "done",
		"results": results,
	}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// syncUsagePoint walks backward week by week from yesterday, fetching any
// week the cache doesn't already cover, until it hits the activation date,
// the retention bound, or the edge of the upstream's data.
func (s *Server) syncUsagePoint(ctx context.Context, usagePointID string) updateResult {
	res := updateResult{UsagePointID: usagePointID}

	settings, creds, err := s.getSettingsWithMigration(ctx, usagePointID)
	if err != nil {
		res.Error = fmt.Sprintf("failed to get settings: %v", err)
		return res
	}

	provider, err := s.meters.Provider(settings.Provider)
	if err != nil {
		res.Error = fmt.Sprintf("failed to get provider: %v", err)
		return res
	}

	existing, err := s.storage.GetReadingPayloads(ctx, usagePointID)
	if err != nil {
		res.Error = fmt.Sprintf("failed to get cached readings: %v", err)
		return res
	}

	today := truncateDay(time.Now().UTC())
	lowerBound := today.AddDate(0, 0, -retentionDays)
	if !settings.ActivationDate.IsZero() && settings.ActivationDate.After(lowerBound) {
		lowerBound = truncateDay(settings.ActivationDate.UTC())
	}

walk:
	for offset := 0; ; offset++ {
		// cancellation is cooperative, checked between weeks only so a
		// stored payload is never half-written
		if err := ctx.Err(); err != nil {
			res.Error = fmt.Sprintf("canceled: %v", err)
			break
		}

		start, end := aggregate.WeekWindow(today, offset)
		if end.Before(lowerBound) {
			break
		}
		if start.Before(lowerBound) {
			start = lowerBound
		}

		if covered(existing, types.PayloadKindLoadCurve, start, end) {
			res.SkippedWeeks++
			continue
		}

		// shrink the window from the left when the upstream has no data;
		// this is how we find the edge of the meter's history
		fetchStart := start
		for attempt := 0; ; attempt++ {
			payload, err := provider.GetLoadCurve(ctx, usagePointID, creds, fetchStart, end)
			if errors.Is(err, meter.ErrNoData) {
				fetchStart = fetchStart.AddDate(0, 0, 1)
				if attempt+1 >= maxNoDataAttempts || fetchStart.After(end) {
					// expected at the activation boundary, never an error
					log.Ctx(ctx).InfoContext(ctx, "reached edge of upstream data", slog.String("usagePointID", usagePointID), slog.Time("end", end))
					res.ReachedDataEdge = true
					break walk
				}
				continue
			}
			if err != nil {
				res.Error = fmt.Sprintf("failed to fetch load curve: %v", err)
				break walk
			}

			if err := s.storage.SetReadingPayload(ctx, payload); err != nil {
				res.Error = fmt.Sprintf("failed to store load curve: %v", err)
				break walk
			}
			res.FetchedWeeks++

			// daily totals for the same window fill in days whose curve is
			// incomplete upstream
			daily, err := provider.GetDailyConsumption(ctx, usagePointID, creds, fetchStart, end)
			if err != nil && !errors.Is(err, meter.ErrNoData) {
				log.Ctx(ctx).WarnContext(ctx, "failed to fetch daily totals", slog.String("usagePointID", usagePointID), slog.Any("error", err))
			} else if err == nil {
				if err := s.storage.SetReadingPayload(ctx, daily); err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to store daily totals", slog.String("usagePointID", usagePointID), slog.Any("error", err))
				}
			}

			if fetchStart.After(start) {
				// a shrunken week means the week before it has nothing
				res.ReachedDataEdge = true
				break walk
			}
			break
		}
	}

	pruned, err := s.storage.PruneReadingPayloads(ctx, usagePointID, today.AddDate(0, 0, -retentionDays))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to prune readings", slog.String("usagePointID", usagePointID), slog.Any("error", err))
	}
	res.PrunedPayloads = pruned

	if latest, err := s.storage.GetLatestReadingTime(ctx, usagePointID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get latest reading time", slog.String("usagePointID", usagePointID), slog.Any("error", err))
	} else if !latest.IsZero() {
		res.LatestReading = &latest
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"sync finished",
		slog.String("usagePointID", usagePointID),
		slog.Int("fetchedWeeks", res.FetchedWeeks),
		slog.Int("skippedWeeks", res.SkippedWeeks),
		slog.Int("prunedPayloads", res.PrunedPayloads),
	)
	return res
}

// covered reports whether an already-cached payload of the given kind spans
// the whole [start, end] civil-day window.
func covered(payloads []types.ReadingPayload, kind string, start, end time.Time) bool {
	for _, p := range payloads {
		if p.Kind != kind {
			continue
		}
		if !p.RangeStart.After(start) && !p.RangeEnd.Before(end) {
			return true
		}
	}
	return false
}
