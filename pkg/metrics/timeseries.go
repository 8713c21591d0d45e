package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/gpilot-io/gpilot/pkg/models"
)

var rangeDurations = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

var resolutionDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
}

// Point is one time-series sample: minute snapshots averaged within a
// resolution bucket.
type Point struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
}

// SeriesStats summarizes the returned points.
type SeriesStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
	Current float64 `json:"current"`
}

// Series is a metric over a time range at a fixed resolution. Minutes
// without snapshots are omitted rather than zero-filled.
type Series struct {
	Metric     string      `json:"metric"`
	Range      string      `json:"range"`
	Resolution string      `json:"resolution"`
	Points     []Point     `json:"points"`
	Stats      SeriesStats `json:"stats"`
}

// Timeseries buckets a user's minute snapshots into the requested
// resolution, averaging within each bucket.
func (c *Collector) Timeseries(ctx context.Context, userID, metric, rng, resolution string) (*Series, error) {
	rngDur, ok := rangeDurations[rng]
	if !ok {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown range %q", rng)}
	}
	resDur, ok := resolutionDurations[resolution]
	if !ok {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown resolution %q", resolution)}
	}
	if _, ok := (models.MetricSnapshot{}).MetricValue(metric); !ok {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown metric %q", metric)}
	}

	since := time.Now().UTC().Add(-rngDur)
	snaps, err := c.store.ListSnapshotsSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	series := &Series{
		Metric:     metric,
		Range:      rng,
		Resolution: resolution,
		Points:     make([]Point, 0, len(snaps)),
	}

	// Snapshots arrive bucket-ascending, so resolution buckets are
	// contiguous runs.
	var (
		cur   time.Time
		sum   float64
		count int
	)
	flush := func() {
		if count == 0 {
			return
		}
		series.Points = append(series.Points, Point{Bucket: cur, Value: sum / float64(count)})
		sum, count = 0, 0
	}
	for _, snap := range snaps {
		value, _ := snap.MetricValue(metric)
		bucket := snap.Bucket.UTC().Truncate(resDur)
		if !bucket.Equal(cur) {
			flush()
			cur = bucket
		}
		sum += value
		count++
	}
	flush()

	if len(series.Points) > 0 {
		stats := SeriesStats{
			Min:     series.Points[0].Value,
			Max:     series.Points[0].Value,
			Current: series.Points[len(series.Points)-1].Value,
		}
		var total float64
		for _, p := range series.Points {
			if p.Value < stats.Min {
				stats.Min = p.Value
			}
			if p.Value > stats.Max {
				stats.Max = p.Value
			}
			total += p.Value
		}
		stats.Avg = total / float64(len(series.Points))
		series.Stats = stats
	}
	return series, nil
}
