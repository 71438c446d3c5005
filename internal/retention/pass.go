package retention

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// runDaily scans the prior 24h of the raw bucket through every configured
// detector and writes one aggregate batch per detector that emitted rows (a
// detector with no rows writes nothing). A detector whose write fails does not prevent the others from running; their errors are
// joined into the job's final result so the job is marked failed without
// masking which detectors succeeded.
func (s *Scheduler) runDaily(ctx context.Context) error {
	now := time.Now().UTC()
	start, end := dailyWindow(now)
	day := end.Add(-12 * time.Hour) // midpoint of the scanned day, for date tagging

	raw, err := s.client.Query(ctx, MeasurementRawEvents, start, end)
	if err != nil {
		return fmt.Errorf("querying raw bucket for daily pass: %w", err)
	}

	if lookup, err := backfillCatalog(ctx, s.store); err != nil {
		s.log.Warn("daily pass: catalog backfill unavailable", "error", err)
	} else {
		applyBackfill(raw, lookup)
	}

	var errs []error
	for _, d := range DailyDetectors() {
		points := d.Detect(day, raw)
		if err := writeBatch(ctx, s.client, d.Name(), points); err != nil {
			errs = append(errs, fmt.Errorf("detector %q: %w", d.Name(), err))
			s.log.Error("daily detector write failed", "detector", d.Name(), "error", err)
			continue
		}
		s.log.Info("daily detector complete", "detector", d.Name(), "rows", len(points))
	}
	return errors.Join(errs...)
}

// runWeekly reads the last 7 daily aggregates and produces weekly rollups.
func (s *Scheduler) runWeekly(ctx context.Context) error {
	weekEnding := weekEndingFor(time.Now().UTC())
	start := weekEnding.Add(-7 * 24 * time.Hour)

	timeBasedDaily, err := s.client.Query(ctx, MeasurementTimeBasedDaily, start, weekEnding)
	if err != nil {
		return fmt.Errorf("querying %s for weekly pass: %w", MeasurementTimeBasedDaily, err)
	}
	roomBasedDaily, err := s.client.Query(ctx, MeasurementRoomBasedDaily, start, weekEnding)
	if err != nil {
		return fmt.Errorf("querying %s for weekly pass: %w", MeasurementRoomBasedDaily, err)
	}

	var errs []error
	if err := writeBatch(ctx, s.client, MeasurementSessionWeekly, buildSessionWeekly(weekEnding, timeBasedDaily)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", MeasurementSessionWeekly, err))
	}
	if err := writeBatch(ctx, s.client, MeasurementDayTypeWeekly, buildDayTypeWeekly(weekEnding, roomBasedDaily)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", MeasurementDayTypeWeekly, err))
	}
	return errors.Join(errs...)
}

// runMonthly reads the last month of weekly aggregates and produces monthly
// rollups.
func (s *Scheduler) runMonthly(ctx context.Context) error {
	monthEnding := monthEndingFor(time.Now().UTC())
	start := monthEnding.Add(-31 * 24 * time.Hour)

	sessionWeekly, err := s.client.Query(ctx, MeasurementSessionWeekly, start, monthEnding)
	if err != nil {
		return fmt.Errorf("querying %s for monthly pass: %w", MeasurementSessionWeekly, err)
	}
	dayTypeWeekly, err := s.client.Query(ctx, MeasurementDayTypeWeekly, start, monthEnding)
	if err != nil {
		return fmt.Errorf("querying %s for monthly pass: %w", MeasurementDayTypeWeekly, err)
	}

	var errs []error
	if err := writeBatch(ctx, s.client, MeasurementContextualMonthly, buildContextualMonthly(monthEnding, sessionWeekly)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", MeasurementContextualMonthly, err))
	}
	if err := writeBatch(ctx, s.client, MeasurementSeasonalMonthly, buildSeasonalMonthly(monthEnding, dayTypeWeekly)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", MeasurementSeasonalMonthly, err))
	}
	return errors.Join(errs...)
}

// runRetentionSweep asks the store to drop points older than each bucket's
// configured retention window. Expiration itself is the store's
// responsibility; this job only issues the request.
func (s *Scheduler) runRetentionSweep(ctx context.Context) error {
	now := time.Now().UTC()

	buckets := []struct {
		measurements []string
		window       time.Duration
	}{
		{[]string{MeasurementRawEvents}, s.cfg.Retention.Raw},
		{[]string{
			MeasurementTimeBasedDaily, MeasurementCoOccurrenceDaily, MeasurementSequenceDaily,
			MeasurementRoomBasedDaily, MeasurementDurationDaily, MeasurementAnomalyDaily,
		}, s.cfg.Retention.Daily},
		{[]string{
			MeasurementSessionWeekly, MeasurementDayTypeWeekly,
			MeasurementContextualMonthly, MeasurementSeasonalMonthly,
		}, s.cfg.Retention.Weekly},
	}

	var errs []error
	for _, b := range buckets {
		cutoff := now.Add(-b.window)
		for _, m := range b.measurements {
			if err := s.client.Purge(ctx, m, cutoff); err != nil {
				errs = append(errs, fmt.Errorf("purging %s: %w", m, err))
				s.log.Error("retention sweep purge failed", "measurement", m, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}
