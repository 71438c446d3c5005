package tsdb

import "time"

// Point is one row in the time-series write contract: a measurement name,
// a bounded-cardinality tag set, a field set of typed values, and a
// nanosecond timestamp.
type Point struct {
	Measurement string                 `json:"measurement"`
	Tags        map[string]string      `json:"tags"`
	Fields      map[string]interface{} `json:"fields"`
	Time        time.Time              `json:"time"`
}

// Batch is a group of Points destined for one measurement, flushed as a
// single write with an idempotence key.
type Batch struct {
	BatchID     string  `json:"batch_id"`
	Measurement string  `json:"measurement"`
	Points      []Point `json:"points"`
}
