package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Distributions
var workMillisecondsDistribution = view.Distribution(
	1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10_000, 30_000, 60_000, // small sectors
	2*60_000, 5*60_000, 10*60_000, 15*60_000, 30*60_000, 60*60_000, 120*60_000, // PC2 / C2 range
	180*60_000, 300*60_000, 600*60_000, 1000*60_000, // PC1 range
)

// Tags
var (
	TaskType, _    = tag.NewKey("task_type")
	SectorSize, _  = tag.NewKey("sector_size")
	APIVersion, _  = tag.NewKey("api_version")
	SectorState, _ = tag.NewKey("sector_state")
	Outcome, _     = tag.NewKey("outcome")
	FailureType, _ = tag.NewKey("failure_type")
)

// Measures
var (
	SealPhaseDuration       = stats.Float64("sealing/phase_ms", "Duration of a single sealing phase", stats.UnitMilliseconds)
	SectorStates            = stats.Int64("sealing/states", "Number of sectors in each state", stats.UnitDimensionless)
	CacheValidationFailures = stats.Int64("sealing/cache_validation_failures", "Number of failed cache validation gates", stats.UnitDimensionless)

	LifecycleDuration = stats.Float64("lifecycle/duration_ms", "Duration of a full seal lifecycle", stats.UnitMilliseconds)
	Lifecycles        = stats.Int64("lifecycle/finished", "Number of finished lifecycles", stats.UnitDimensionless)
)

var (
	SealPhaseDurationView = &view.View{
		Measure:     SealPhaseDuration,
		Aggregation: workMillisecondsDistribution,
		TagKeys:     []tag.Key{TaskType, SectorSize},
	}
	SectorStatesView = &view.View{
		Measure:     SectorStates,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{SectorState},
	}
	CacheValidationFailuresView = &view.View{
		Measure:     CacheValidationFailures,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{TaskType},
	}
	LifecycleDurationView = &view.View{
		Measure:     LifecycleDuration,
		Aggregation: workMillisecondsDistribution,
		TagKeys:     []tag.Key{SectorSize, APIVersion},
	}
	LifecyclesView = &view.View{
		Measure:     Lifecycles,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome, FailureType, APIVersion},
	}
)

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = []*view.View{
	SealPhaseDurationView,
	SectorStatesView,
	CacheValidationFailuresView,
	LifecycleDurationView,
	LifecyclesView,
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}
