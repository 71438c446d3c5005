package retention

import (
	"time"

	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// buildSessionWeekly reads the week's time_based_daily points and produces
// one session_weekly row per entity, summing event counts across the week.
func buildSessionWeekly(weekEnding time.Time, daily []tsdb.Point) []tsdb.Point {
	byEntity := groupByTag(daily, "entity_id")
	out := make([]tsdb.Point, 0, len(byEntity))
	for entityID, pts := range byEntity {
		total := 0
		for _, p := range pts {
			if n, ok := toInt64(p.Fields["event_count"]); ok {
				total += int(n)
			}
		}
		out = append(out, tsdb.Point{
			Measurement: MeasurementSessionWeekly,
			Tags:        map[string]string{"entity_id": entityID, "week_ending": dateTag(weekEnding)},
			Fields:      map[string]interface{}{"event_count": total},
			Time:        weekEnding,
		})
	}
	return out
}

// buildDayTypeWeekly splits the week's room_based_daily points into
// weekday vs. weekend buckets per area.
func buildDayTypeWeekly(weekEnding time.Time, roomDaily []tsdb.Point) []tsdb.Point {
	type tally struct{ weekday, weekend int }
	byArea := make(map[string]*tally)

	for _, p := range roomDaily {
		areaID := p.Tags["area_id"]
		if areaID == "" {
			continue
		}
		count, ok := toInt64(p.Fields["event_count"])
		if !ok {
			continue
		}
		if byArea[areaID] == nil {
			byArea[areaID] = &tally{}
		}
		if isWeekend(p.Time) {
			byArea[areaID].weekend += int(count)
		} else {
			byArea[areaID].weekday += int(count)
		}
	}

	out := make([]tsdb.Point, 0, len(byArea))
	for areaID, t := range byArea {
		out = append(out, tsdb.Point{
			Measurement: MeasurementDayTypeWeekly,
			Tags:        map[string]string{"area_id": areaID, "week_ending": dateTag(weekEnding)},
			Fields:      map[string]interface{}{"weekday_count": t.weekday, "weekend_count": t.weekend},
			Time:        weekEnding,
		})
	}
	return out
}

func isWeekend(t time.Time) bool {
	d := t.UTC().Weekday()
	return d == time.Saturday || d == time.Sunday
}
