package metrics

import (
	"context"
	"time"

	rpcmetrics "github.com/filecoin-project/go-jsonrpc/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Distributions
var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8,
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
	150, 200, 250, 300, 350, 400, 450, 500,
	600, 700, 800, 900, 1000,
	2000, 3000, 5000, 10000, 30000, 60000,
)

var blobSizeDistribution = view.Distribution(
	1<<10, 16<<10, 256<<10, 1<<20, 4<<20, 16<<20, 64<<20, 256<<20, 1<<30,
)

// Tags
var (
	Version, _   = tag.NewKey("version")
	Role, _      = tag.NewKey("role")
	FromState, _ = tag.NewKey("from_state")
	ToState, _   = tag.NewKey("to_state")
	Outcome, _   = tag.NewKey("outcome")
	Action, _    = tag.NewKey("action")
	MsgKind, _   = tag.NewKey("msg_kind")
	Reason, _    = tag.NewKey("reason")

	APIInterface, _ = tag.NewKey("api")
)

// Measures
var (
	Info = stats.Int64("info", "Arbitrary counter to tag rentstore info to", stats.UnitDimensionless)

	LeaseTransition = stats.Int64("lease/transition", "Counter for lease state transitions", stats.UnitDimensionless)
	LeaseProposed   = stats.Int64("lease/proposed_bytes", "Size of blobs offered in lease proposals", stats.UnitBytes)
	LeaseRejected   = stats.Int64("lease/rejected", "Counter for rejected lease proposals", stats.UnitDimensionless)

	ChallengeIssued    = stats.Int64("audit/challenge_issued", "Counter for challenges issued", stats.UnitDimensionless)
	ChallengeResult    = stats.Int64("audit/challenge_result", "Counter for challenge outcomes", stats.UnitDimensionless)
	ProofDuration      = stats.Float64("audit/proof_ms", "Time spent building a storage proof", stats.UnitMilliseconds)
	VerifyDuration     = stats.Float64("audit/verify_ms", "Time spent verifying a storage proof", stats.UnitMilliseconds)
	SettlementAttempts = stats.Int64("settlement/attempts", "Counter for settlement transactions sent", stats.UnitDimensionless)
	SettlementResult   = stats.Int64("settlement/result", "Counter for finished settlements", stats.UnitDimensionless)

	MessageReceived = stats.Int64("protocol/message_received", "Counter for protocol messages received", stats.UnitDimensionless)
	MessageDropped  = stats.Int64("protocol/message_dropped", "Counter for protocol messages dropped", stats.UnitDimensionless)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "rentstore node information",
		Measure:     Info,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version},
	}
	LeaseTransitionView = &view.View{
		Measure:     LeaseTransition,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Role, FromState, ToState},
	}
	LeaseProposedView = &view.View{
		Measure:     LeaseProposed,
		Aggregation: blobSizeDistribution,
		TagKeys:     []tag.Key{Role},
	}
	LeaseRejectedView = &view.View{
		Measure:     LeaseRejected,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Reason},
	}
	ChallengeIssuedView = &view.View{
		Measure:     ChallengeIssued,
		Aggregation: view.Count(),
	}
	ChallengeResultView = &view.View{
		Measure:     ChallengeResult,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Role, Outcome},
	}
	ProofDurationView = &view.View{
		Measure:     ProofDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	VerifyDurationView = &view.View{
		Measure:     VerifyDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	SettlementAttemptsView = &view.View{
		Measure:     SettlementAttempts,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Action},
	}
	SettlementResultView = &view.View{
		Measure:     SettlementResult,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Action, Outcome},
	}
	MessageReceivedView = &view.View{
		Measure:     MessageReceived,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{MsgKind},
	}
	MessageDroppedView = &view.View{
		Measure:     MessageDropped,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Reason},
	}
)

var views = []*view.View{
	InfoView,
	LeaseTransitionView,
	LeaseProposedView,
	LeaseRejectedView,
	ChallengeIssuedView,
	ChallengeResultView,
	ProofDurationView,
	VerifyDurationView,
	SettlementAttemptsView,
	SettlementResultView,
	MessageReceivedView,
	MessageDroppedView,
}

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = func() []*view.View {
	return views
}()

// RegisterViews adds views to the default list without modifying this file.
func RegisterViews(v ...*view.View) {
	views = append(views, v...)
	DefaultViews = views
}

func init() {
	RegisterViews(rpcmetrics.DefaultViews...)
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Milliseconds())
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

// Count records one occurrence of m tagged with the given mutators. Tagging
// errors are dropped.
func Count(ctx context.Context, m *stats.Int64Measure, mutators ...tag.Mutator) {
	_ = stats.RecordWithTags(ctx, mutators, m.M(1))
}
