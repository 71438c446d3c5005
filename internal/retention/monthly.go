package retention

import (
	"time"

	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// buildContextualMonthly sums session_weekly event counts per entity over
// the month, giving a coarse month-level activity contour.
func buildContextualMonthly(monthEnding time.Time, weekly []tsdb.Point) []tsdb.Point {
	byEntity := groupByTag(weekly, "entity_id")
	out := make([]tsdb.Point, 0, len(byEntity))
	for entityID, pts := range byEntity {
		total := 0
		for _, p := range pts {
			if n, ok := toInt64(p.Fields["event_count"]); ok {
				total += int(n)
			}
		}
		out = append(out, tsdb.Point{
			Measurement: MeasurementContextualMonthly,
			Tags:        map[string]string{"entity_id": entityID, "month": monthTag(monthEnding)},
			Fields:      map[string]interface{}{"event_count": total},
			Time:        monthEnding,
		})
	}
	return out
}

// buildSeasonalMonthly rolls up day_type_weekly rows per area into a single
// weekday/weekend split for the month.
func buildSeasonalMonthly(monthEnding time.Time, dayType []tsdb.Point) []tsdb.Point {
	type tally struct{ weekday, weekend int }
	byArea := make(map[string]*tally)

	for _, p := range dayType {
		areaID := p.Tags["area_id"]
		if areaID == "" {
			continue
		}
		if byArea[areaID] == nil {
			byArea[areaID] = &tally{}
		}
		if n, ok := toInt64(p.Fields["weekday_count"]); ok {
			byArea[areaID].weekday += int(n)
		}
		if n, ok := toInt64(p.Fields["weekend_count"]); ok {
			byArea[areaID].weekend += int(n)
		}
	}

	out := make([]tsdb.Point, 0, len(byArea))
	for areaID, t := range byArea {
		out = append(out, tsdb.Point{
			Measurement: MeasurementSeasonalMonthly,
			Tags:        map[string]string{"area_id": areaID, "month": monthTag(monthEnding)},
			Fields:      map[string]interface{}{"weekday_count": t.weekday, "weekend_count": t.weekend},
			Time:        monthEnding,
		})
	}
	return out
}

func monthTag(t time.Time) string {
	return t.UTC().Format("2006-01")
}
