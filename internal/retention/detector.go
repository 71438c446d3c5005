package retention

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// Detector is a pure function over one day's raw points. It must not block
// on I/O; reading the window and writing the results are the daily job's
// responsibility. A failed detector does not block the others — each
// detector's error is recorded independently and the remaining detectors
// still run.
type Detector interface {
	Name() string
	Detect(day time.Time, points []tsdb.Point) []tsdb.Point
}

// groupByTag buckets points by the value of tag, dropping points missing it.
func groupByTag(points []tsdb.Point, tag string) map[string][]tsdb.Point {
	out := make(map[string][]tsdb.Point)
	for _, p := range points {
		key, ok := p.Tags[tag]
		if !ok || key == "" {
			continue
		}
		out[key] = append(out[key], p)
	}
	return out
}

func stringField(p tsdb.Point, name string) (string, bool) {
	v, ok := p.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// timeOfDayDetector buckets each entity's daily event count by hour, for
// spotting time-of-day usage patterns.
type timeOfDayDetector struct{}

func (timeOfDayDetector) Name() string { return MeasurementTimeBasedDaily }

func (timeOfDayDetector) Detect(day time.Time, points []tsdb.Point) []tsdb.Point {
	byEntity := groupByTag(points, "entity_id")
	out := make([]tsdb.Point, 0, len(byEntity))
	for entityID, pts := range byEntity {
		var hist [24]int
		for _, p := range pts {
			hist[p.Time.UTC().Hour()]++
		}
		mostActive, max := 0, -1
		for h, c := range hist {
			if c > max {
				mostActive, max = h, c
			}
		}
		histJSON, _ := json.Marshal(hist)
		out = append(out, tsdb.Point{
			Measurement: MeasurementTimeBasedDaily,
			Tags:        map[string]string{"entity_id": entityID, "date": dateTag(day)},
			Fields: map[string]interface{}{
				"hour_histogram":   string(histJSON),
				"most_active_hour": mostActive,
				"event_count":      len(pts),
			},
			Time: day,
		})
	}
	return out
}

// coOccurrenceDetector finds, per entity, which other entity changed state
// most often within the same minute.
type coOccurrenceDetector struct{}

func (coOccurrenceDetector) Name() string { return MeasurementCoOccurrenceDaily }

func (coOccurrenceDetector) Detect(day time.Time, points []tsdb.Point) []tsdb.Point {
	byMinute := make(map[int64][]string)
	for _, p := range points {
		entityID := p.Tags["entity_id"]
		if entityID == "" {
			continue
		}
		bucket := p.Time.UTC().Unix() / 60
		byMinute[bucket] = append(byMinute[bucket], entityID)
	}

	counts := make(map[string]map[string]int)
	for _, entities := range byMinute {
		for _, a := range entities {
			for _, b := range entities {
				if a == b {
					continue
				}
				if counts[a] == nil {
					counts[a] = make(map[string]int)
				}
				counts[a][b]++
			}
		}
	}

	out := make([]tsdb.Point, 0, len(counts))
	for entityID, partners := range counts {
		top, topCount := "", 0
		for partner, n := range partners {
			if n > topCount {
				top, topCount = partner, n
			}
		}
		if top == "" {
			continue
		}
		out = append(out, tsdb.Point{
			Measurement: MeasurementCoOccurrenceDaily,
			Tags:        map[string]string{"entity_id": entityID, "date": dateTag(day)},
			Fields: map[string]interface{}{
				"co_occurring_entity": top,
				"co_occurrence_count": topCount,
			},
			Time: day,
		})
	}
	return out
}

// sequenceDetector finds, per entity, the entity most likely to change
// state immediately after it (same-day, chronological order).
type sequenceDetector struct{}

func (sequenceDetector) Name() string { return MeasurementSequenceDaily }

func (sequenceDetector) Detect(day time.Time, points []tsdb.Point) []tsdb.Point {
	sorted := make([]tsdb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	follows := make(map[string]map[string]int)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1].Tags["entity_id"], sorted[i].Tags["entity_id"]
		if prev == "" || cur == "" || prev == cur {
			continue
		}
		if follows[prev] == nil {
			follows[prev] = make(map[string]int)
		}
		follows[prev][cur]++
	}

	out := make([]tsdb.Point, 0, len(follows))
	for entityID, nexts := range follows {
		top, topCount := "", 0
		for next, n := range nexts {
			if n > topCount {
				top, topCount = next, n
			}
		}
		out = append(out, tsdb.Point{
			Measurement: MeasurementSequenceDaily,
			Tags:        map[string]string{"entity_id": entityID, "date": dateTag(day)},
			Fields: map[string]interface{}{
				"next_entity": top,
				"count":       topCount,
			},
			Time: day,
		})
	}
	return out
}

// roomBasedDetector aggregates event and distinct-entity counts per area.
type roomBasedDetector struct{}

func (roomBasedDetector) Name() string { return MeasurementRoomBasedDaily }

func (roomBasedDetector) Detect(day time.Time, points []tsdb.Point) []tsdb.Point {
	byArea := groupByTag(points, "area_id")
	out := make([]tsdb.Point, 0, len(byArea))
	for areaID, pts := range byArea {
		entities := make(map[string]struct{})
		for _, p := range pts {
			entities[p.Tags["entity_id"]] = struct{}{}
		}
		out = append(out, tsdb.Point{
			Measurement: MeasurementRoomBasedDaily,
			Tags:        map[string]string{"area_id": areaID, "date": dateTag(day)},
			Fields: map[string]interface{}{
				"event_count":       len(pts),
				"distinct_entities": len(entities),
			},
			Time: day,
		})
	}
	return out
}

// durationDetector summarizes duration_in_state per entity.
type durationDetector struct{}

func (durationDetector) Name() string { return MeasurementDurationDaily }

func (durationDetector) Detect(day time.Time, points []tsdb.Point) []tsdb.Point {
	byEntity := groupByTag(points, "entity_id")
	out := make([]tsdb.Point, 0, len(byEntity))
	for entityID, pts := range byEntity {
		var sum, max int64
		var n int
		for _, p := range pts {
			v, ok := p.Fields["duration_in_state"]
			if !ok {
				continue
			}
			d, ok := toInt64(v)
			if !ok {
				continue
			}
			sum += d
			if d > max {
				max = d
			}
			n++
		}
		if n == 0 {
			continue
		}
		out = append(out, tsdb.Point{
			Measurement: MeasurementDurationDaily,
			Tags:        map[string]string{"entity_id": entityID, "date": dateTag(day)},
			Fields: map[string]interface{}{
				"avg_duration_seconds": float64(sum) / float64(n),
				"max_duration_seconds": max,
				"sample_count":         n,
			},
			Time: day,
		})
	}
	return out
}

// anomalyDetector flags entities whose event count deviates sharply from
// the day's per-entity mean. A crude z-score style signal, not a learned
// model — sufficient for a first-pass daily flag.
type anomalyDetector struct{}

func (anomalyDetector) Name() string { return MeasurementAnomalyDaily }

func (anomalyDetector) Detect(day time.Time, points []tsdb.Point) []tsdb.Point {
	byEntity := groupByTag(points, "entity_id")
	if len(byEntity) == 0 {
		return nil
	}

	total := 0
	for _, pts := range byEntity {
		total += len(pts)
	}
	mean := float64(total) / float64(len(byEntity))
	if mean == 0 {
		return nil
	}

	out := make([]tsdb.Point, 0, len(byEntity))
	for entityID, pts := range byEntity {
		count := len(pts)
		deviation := float64(count) / mean
		out = append(out, tsdb.Point{
			Measurement: MeasurementAnomalyDaily,
			Tags:        map[string]string{"entity_id": entityID, "date": dateTag(day)},
			Fields: map[string]interface{}{
				"event_count":      count,
				"baseline_count":   mean,
				"deviation_ratio":  deviation,
				"is_anomaly":       deviation >= 3 || deviation <= 0.1,
			},
			Time: day,
		})
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// DailyDetectors returns the six configured daily detectors in a fixed
// order so iteration order (and therefore write order, though each detector
// writes independently) is deterministic.
func DailyDetectors() []Detector {
	return []Detector{
		timeOfDayDetector{},
		coOccurrenceDetector{},
		sequenceDetector{},
		roomBasedDetector{},
		durationDetector{},
		anomalyDetector{},
	}
}
