// Package risk computes a composite 0–100 risk score for an authentication
// attempt from independent contextual signals. The engine only produces a
// number and the list of triggered indicators; callers decide policy.
package risk

import (
	"context"
	"time"
)

// Context describes one attempt being scored.
type Context struct {
	UserID            string
	IP                string
	UserAgent         string
	DeviceFingerprint string
	At                time.Time
}

// Signals is the snapshot of historical data the evaluators read. It is
// fetched once per scoring so no evaluator performs I/O; a source outage
// yields the zero value, which every evaluator treats as neutral.
type Signals struct {
	IPBlocklisted      bool
	Country            string // country of the attempt IP; empty when lookup failed
	LastCountry        string // country of the user's last successful login
	KnownDevice        bool
	SeenAnyDevice      bool // false until the user has a device history at all
	RecentFailedLogins int
	ActiveSessions     int
	LoginHourHistogram [24]int
}

// Indicator names recorded in session and audit metadata.
const (
	IndicatorIPBlocklist    = "ip_blocklist_hit"
	IndicatorGeoJump        = "geo_jump"
	IndicatorUnusualHour    = "unusual_hour"
	IndicatorNewDevice      = "new_device"
	IndicatorFailedLogins   = "failed_login_burst"
	IndicatorSessionAnomaly = "session_count_anomaly"
)

// Weights are the per-signal point values. They are tunable configuration,
// not correctness constants; DefaultWeights satisfies the documented
// expectations (blocklisted IP + new device reaches the step-up band).
type Weights struct {
	IPBlocklist       int
	GeoJump           int
	UnusualHour       int
	NewDevice         int
	FailedLogins      int
	SessionAnomaly    int
	FailedLoginBurst  int // failures within the window that count as a burst
	MaxActiveSessions int // active sessions beyond this are anomalous
	MinHistoryLogins  int // histogram total before hour-of-day matters
}

// DefaultWeights returns the default point values.
func DefaultWeights() Weights {
	return Weights{
		IPBlocklist:       40,
		GeoJump:           20,
		UnusualHour:       10,
		NewDevice:         15,
		FailedLogins:      20,
		SessionAnomaly:    15,
		FailedLoginBurst:  5,
		MaxActiveSessions: 10,
		MinHistoryLogins:  10,
	}
}

// Evaluator is one pure signal: points from (attempt, snapshot), no side
// effects, no I/O.
type Evaluator interface {
	Name() string
	Evaluate(rc Context, sig Signals) int
}

// Result is the score plus which signals fired.
type Result struct {
	Score      int
	Indicators []string
}

// Engine sums evaluator points, capped at 100. It never blocks an attempt
// and never returns an error: a signal source failure scores as neutral.
type Engine struct {
	evaluators []Evaluator
	source     SignalSource
}

// NewEngine builds an engine with the standard evaluator set.
func NewEngine(source SignalSource, w Weights, blocklist []string) *Engine {
	if source == nil {
		source = NoopSource{}
	}
	return &Engine{
		source: source,
		evaluators: []Evaluator{
			&blocklistEvaluator{points: w.IPBlocklist, ips: toSet(blocklist)},
			&geoJumpEvaluator{points: w.GeoJump},
			&unusualHourEvaluator{points: w.UnusualHour, minHistory: w.MinHistoryLogins},
			&newDeviceEvaluator{points: w.NewDevice},
			&failedLoginEvaluator{points: w.FailedLogins, burst: w.FailedLoginBurst},
			&sessionCountEvaluator{points: w.SessionAnomaly, max: w.MaxActiveSessions},
		},
	}
}

// Score fetches the signal snapshot and runs every evaluator.
func (e *Engine) Score(ctx context.Context, rc Context) Result {
	sig := e.source.Fetch(ctx, rc)
	res := Result{Indicators: []string{}}
	for _, ev := range e.evaluators {
		if pts := ev.Evaluate(rc, sig); pts > 0 {
			res.Score += pts
			res.Indicators = append(res.Indicators, ev.Name())
		}
	}
	if res.Score > 100 {
		res.Score = 100
	}
	return res
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
