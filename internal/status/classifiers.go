package status

import "fmt"

func latestValue(in Input) (float64, bool) {
	if len(in.Points) == 0 {
		return 0, false
	}
	return in.Points[len(in.Points)-1].Value, true
}

// rateClassifier covers yield-like series where falling is healthy and a
// push into recent highs is the danger signal.
type rateClassifier struct{}

func (rateClassifier) Kind() string { return "rate" }

func (rateClassifier) Classify(in Input) Result {
	value, ok := latestValue(in)
	if !ok {
		return Result{Status: Unknown, Trend: Flat, Explanation: "No data yet"}
	}

	if in.Trend == Falling || in.Trend == Flat {
		return Result{Status: Green, Trend: in.Trend, Explanation: "Yields easing or stable"}
	}

	high := recentHigh(in.Points, 14)
	if value >= high*(1-0.002) {
		return Result{Status: Red, Trend: in.Trend, Explanation: fmt.Sprintf("Rising at 14-day high (%.2f)", high)}
	}
	return Result{Status: Yellow, Trend: in.Trend, Explanation: "Rising but below recent high"}
}

// currencyIndexClassifier covers dollar-strength style series: a weakening
// index is supportive, a strengthening one is a headwind.
type currencyIndexClassifier struct{}

func (currencyIndexClassifier) Kind() string { return "currency_index" }

func (currencyIndexClassifier) Classify(in Input) Result {
	switch in.Trend {
	case Falling:
		return Result{Status: Green, Trend: in.Trend, Explanation: "Index weakening"}
	case Rising:
		return Result{Status: Red, Trend: in.Trend, Explanation: "Index strengthening"}
	default:
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "Index flat"}
	}
}

// equityIndexClassifier compares price to its moving average.
type equityIndexClassifier struct{}

func (equityIndexClassifier) Kind() string { return "equity_index" }

func (equityIndexClassifier) Classify(in Input) Result {
	value, ok := latestValue(in)
	if !ok {
		return Result{Status: Unknown, Trend: Flat, Explanation: "No data yet"}
	}
	if in.Derived == nil || in.Derived.MAWindow == 0 {
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "Insufficient history for moving average"}
	}

	ma := in.Derived.MAWindow
	switch {
	case value >= ma*(1-0.005) && in.Trend != Falling:
		return Result{Status: Green, Trend: in.Trend, Explanation: fmt.Sprintf("Above %dd moving average", in.Config.TrendWindowDays)}
	case value < ma && in.Trend == Falling:
		return Result{Status: Red, Trend: in.Trend, Explanation: fmt.Sprintf("Below %dd moving average and falling", in.Config.TrendWindowDays)}
	default:
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "Near moving average"}
	}
}

// leadersClassifier always defers: the composite status is rolled up from
// constituent classifications after the fact.
type leadersClassifier struct{}

func (leadersClassifier) Kind() string { return "leaders" }

func (leadersClassifier) Classify(in Input) Result {
	return Result{Status: Yellow, Trend: in.Trend, Explanation: "See constituent detail"}
}

// zoneClassifier places price against configured support/resistance bands.
type zoneClassifier struct{}

func (zoneClassifier) Kind() string { return "zone" }

func (zoneClassifier) Classify(in Input) Result {
	value, ok := latestValue(in)
	if !ok {
		return Result{Status: Unknown, Trend: Flat, Explanation: "No data yet"}
	}
	zones := in.Config.Zones
	if zones == nil {
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "No zones configured"}
	}

	switch {
	case value < zones.BearLine:
		return Result{Status: Red, Trend: in.Trend, Explanation: fmt.Sprintf("Below bear line %.0f", zones.BearLine)}
	case value >= zones.SupportLow && value <= zones.SupportHigh:
		if in.Trend != Falling {
			return Result{Status: Green, Trend: in.Trend, Explanation: "Holding support band"}
		}
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "In support band but falling"}
	case value >= zones.BullConfirm:
		return Result{Status: Green, Trend: in.Trend, Explanation: fmt.Sprintf("Above bull confirmation %.0f", zones.BullConfirm)}
	default:
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "Between zones"}
	}
}

// sentimentClassifier reads a bounded 0-100 fear/greed score contrarian-style.
type sentimentClassifier struct{}

func (sentimentClassifier) Kind() string { return "sentiment" }

func (sentimentClassifier) Classify(in Input) Result {
	value, ok := latestValue(in)
	if !ok {
		return Result{Status: Unknown, Trend: Flat, Explanation: "No data yet"}
	}

	switch {
	case value <= 25 && in.Trend != Falling:
		return Result{Status: Green, Trend: in.Trend, Explanation: "Fear high and improving"}
	case value >= 75:
		return Result{Status: Red, Trend: in.Trend, Explanation: "Extreme greed"}
	case value > 25 && value <= 60:
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "Neutral"}
	default:
		return Result{Status: Yellow, Trend: in.Trend, Explanation: "Mixed"}
	}
}

func recentHigh(points []PointSample, n int) float64 {
	if len(points) == 0 {
		return 0
	}
	start := len(points) - n
	if start < 0 {
		start = 0
	}
	high := points[start].Value
	for _, p := range points[start+1:] {
		if p.Value > high {
			high = p.Value
		}
	}
	return high
}
