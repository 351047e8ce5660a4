package status

import (
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
)

// classifierKinds is the closed set of classification strategies, keyed by
// indicator kind. New kinds register here without touching engine logic.
var classifierKinds = map[string]func() Classifier{
	"rate":           func() Classifier { return rateClassifier{} },
	"currency_index": func() Classifier { return currencyIndexClassifier{} },
	"equity_index":   func() Classifier { return equityIndexClassifier{} },
	"leaders":        func() Classifier { return leadersClassifier{} },
	"zone":           func() Classifier { return zoneClassifier{} },
	"sentiment":      func() Classifier { return sentimentClassifier{} },
}

// Engine resolves indicator keys to classifiers and applies the shared
// staleness and trend gates before dispatching.
type Engine struct {
	classifiers map[string]Classifier
	configs     map[string]config.IndicatorConfig
	logger      zerolog.Logger
}

// NewEngine builds the per-key strategy map from the indicator registry.
func NewEngine(indicators []config.IndicatorConfig, logger zerolog.Logger) *Engine {
	engine := &Engine{
		classifiers: make(map[string]Classifier, len(indicators)),
		configs:     make(map[string]config.IndicatorConfig, len(indicators)),
		logger:      logger.With().Str("component", "status_engine").Logger(),
	}
	for _, ic := range indicators {
		factory, ok := classifierKinds[ic.Kind]
		if !ok {
			engine.logger.Warn().Str("indicator", ic.Key).Str("kind", ic.Kind).Msg("no classifier registered for kind")
			continue
		}
		engine.classifiers[ic.Key] = factory()
		engine.configs[ic.Key] = ic
	}
	return engine
}

// Compute classifies one indicator. It is stateless: identical inputs yield
// identical results.
func (e *Engine) Compute(key string, points []PointSample, derived *Derived, stalenessBudget time.Duration, latestPoint time.Time, now time.Time) Result {
	classifier, ok := e.classifiers[key]
	if !ok {
		return Result{Status: Unknown, Trend: Flat, Explanation: "Unknown indicator"}
	}
	cfg := e.configs[key]

	if latestPoint.Before(now.Add(-stalenessBudget)) {
		return Result{Status: Unknown, Trend: Flat, Explanation: "Data stale"}
	}

	trend := Flat
	if derived != nil {
		trend = TrendOf(derived.SlopeWindow, cfg.Epsilon)
	}

	return classifier.Classify(Input{
		Config:  cfg,
		Points:  points,
		Derived: derived,
		Trend:   trend,
	})
}

// CompositeRollup counts constituent statuses into an overall composite
// status: three or more GREEN wins, two RED overrides, a split is YELLOW.
func CompositeRollup(constituents []Status) (Status, string) {
	var green, red int
	for _, s := range constituents {
		switch s {
		case Green:
			green++
		case Red:
			red++
		}
	}

	switch {
	case green >= 3:
		return Green, "Most leaders healthy"
	case green == 2:
		return Yellow, "Leaders split"
	case red >= 2:
		return Red, "Leaders deteriorating"
	default:
		return Yellow, "Leaders mixed"
	}
}
