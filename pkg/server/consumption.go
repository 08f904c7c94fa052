package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loadcurve/loadcurve/pkg/aggregate"
	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/storage"
	"github.com/loadcurve/loadcurve/pkg/types"
)

// storageCache adapts the database to the aggregation engine's reading
// cache, so the fold runs over the persisted payloads directly.
type storageCache struct {
	db storage.Database
}

func (c storageCache) Get(ctx context.Context, key types.PayloadKey) (*types.ReadingPayload, error) {
	p, err := c.db.GetReadingPayload(ctx, key)
	if errors.Is(err, storage.ErrPayloadNotFound) {
		return nil, nil
	}
	return p, err
}

func (c storageCache) Set(ctx context.Context, payload types.ReadingPayload) error {
	return c.db.SetReadingPayload(ctx, payload)
}

func (c storageCache) Snapshot(ctx context.Context, usagePointID string) ([]types.ReadingPayload, error) {
	return c.db.GetReadingPayloads(ctx, usagePointID)
}

// recompute runs the full fold for a usage point using its stored settings.
func (s *Server) recompute(ctx context.Context, usagePointID string) (aggregate.ViewModel, error) {
	settings, _, err := s.getSettingsWithMigration(ctx, usagePointID)
	if err != nil {
		return aggregate.ViewModel{}, err
	}
	cfg := aggregate.Config{
		OffpeakRanges:     offpeakRanges(ctx, settings.Settings),
		MinReadingsPerDay: settings.MinReadingsPerDay,
	}
	return aggregate.Recompute(ctx, storageCache{db: s.storage}, usagePointID, cfg)
}

// setConsumptionCacheControl sets Cache-Control based on how recent the
// served range is. Ranges ending before today never change again (the
// upstream has no data for today), so they can be cached for 24 hours.
func setConsumptionCacheControl(w http.ResponseWriter, end time.Time) {
	today := truncateDay(time.Now().UTC())
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}

func (s *Server) handleConsumptionDaily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usagePointID := s.getUsagePointID(r)

	days := 0
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		var err error
		days, err = strconv.Atoi(daysStr)
		if err != nil || days < 1 {
			writeJSONError(w, "invalid days parameter", http.StatusBadRequest)
			return
		}
	}

	vm, err := s.recompute(ctx, usagePointID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to aggregate readings", slog.Any("error", err))
		writeJSONError(w, "failed to aggregate readings", http.StatusInternalServerError)
		return
	}

	daily := vm.Daily
	if days > 0 && len(daily) > days {
		daily = daily[len(daily)-days:]
	}
	if daily == nil {
		daily = []types.DayTotal{}
	}

	end := time.Time{}
	if len(daily) > 0 {
		end = daily[len(daily)-1].Date
	}
	setConsumptionCacheControl(w, end)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(daily); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleConsumptionMonthly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usagePointID := s.getUsagePointID(r)

	vm, err := s.recompute(ctx, usagePointID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to aggregate readings", slog.Any("error", err))
		writeJSONError(w, "failed to aggregate readings", http.StatusInternalServerError)
		return
	}

	monthly := vm.Monthly
	if monthly == nil {
		monthly = []types.MonthTotal{}
	}

	// the latest month is always still accumulating
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(monthly); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleConsumptionYearly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usagePointID := s.getUsagePointID(r)

	vm, err := s.recompute(ctx, usagePointID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to aggregate readings", slog.Any("error", err))
		writeJSONError(w, "failed to aggregate readings", http.StatusInternalServerError)
		return
	}

	yearly := vm.Yearly
	if yearly == nil {
		yearly = []types.PeriodTotal{}
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(yearly); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// OffpeakRes is the response type for the offpeak endpoint.
type OffpeakRes struct {
	Periods []types.OffpeakPeriodSplit `json:"periods"`
	Months  []types.OffpeakMonthSplit  `json:"months"`
}

func (s *Server) handleConsumptionOffpeak(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usagePointID := s.getUsagePointID(r)

	vm, err := s.recompute(ctx, usagePointID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to aggregate readings", slog.Any("error", err))
		writeJSONError(w, "failed to aggregate readings", http.StatusInternalServerError)
		return
	}

	resp := OffpeakRes{
		Periods: vm.OffpeakPeriods,
		Months:  vm.OffpeakMonths,
	}
	if resp.Periods == nil {
		resp.Periods = []types.OffpeakPeriodSplit{}
	}
	if resp.Months == nil {
		resp.Months = []types.OffpeakMonthSplit{}
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleConsumptionWeek(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	usagePointID := s.getUsagePointID(r)

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		var err error
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeJSONError(w, "invalid offset parameter", http.StatusBadRequest)
			return
		}
	}

	payloads, err := s.storage.GetReadingPayloads(ctx, usagePointID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get readings", slog.Any("error", err))
		writeJSONError(w, "failed to get readings", http.StatusInternalServerError)
		return
	}

	var ds aggregate.Dataset
	for _, p := range payloads {
		ds.AppendPayload(ctx, p)
	}

	start, end := aggregate.WeekWindow(time.Now().UTC(), offset)
	detail := aggregate.Week(ds, start, end)

	setConsumptionCacheControl(w, end)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(detail); err != nil {
		panic(http.ErrAbortHandler)
	}
}
