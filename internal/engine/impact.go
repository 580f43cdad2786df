package engine

import (
	"encoding/json"
	"strings"
)

// MetricKind is chosen explicitly at input time; Unclassified is the honest
// fallback when nothing fits.
type MetricKind string

const (
	MetricRevenue        MetricKind = "revenue"
	MetricOrders         MetricKind = "orders"
	MetricConversionRate MetricKind = "conversion_rate"
	MetricCustomers      MetricKind = "customers"
	MetricHoursSaved     MetricKind = "hours_saved"
	MetricCostReduction  MetricKind = "cost_reduction"
	MetricUnclassified   MetricKind = "unclassified"
)

var metricKinds = map[MetricKind]bool{
	MetricRevenue:        true,
	MetricOrders:         true,
	MetricConversionRate: true,
	MetricCustomers:      true,
	MetricHoursSaved:     true,
	MetricCostReduction:  true,
	MetricUnclassified:   true,
}

// MetricEntry is one measured value; the raw name/value/unit entry is always
// preserved alongside its kind.
type MetricEntry struct {
	Kind  MetricKind `json:"kind"`
	Name  string     `json:"name"`
	Value float64    `json:"value"`
	Unit  string     `json:"unit,omitempty"`
}

// ImpactReport is the completion gate payload for impact-gated areas.
type ImpactReport struct {
	// Open reflection answers, at least 2 of 3 required.
	Reflections [3]string `json:"reflections"`
	// Structured fields, at least 2 of 4 required.
	KeyMetrics      []MetricEntry `json:"key_metrics,omitempty"`
	ImpactRating    int           `json:"impact_rating,omitempty"`
	FutureDecisions string        `json:"future_decisions,omitempty"`
	InvestmentNeeds string        `json:"investment_needs,omitempty"`
}

// checkImpactGate enforces the completion gate: at least 2 answered
// reflections and at least 2 filled structured fields.
func checkImpactGate(r *ImpactReport) error {
	if r == nil {
		return ValidationError{Reason: "impact measurement is required for this task"}
	}
	answered := 0
	for _, a := range r.Reflections {
		if strings.TrimSpace(a) != "" {
			answered++
		}
	}
	if answered < 2 {
		return validationErrorf("impact measurement requires at least 2 of 3 reflection answers, got %d", answered)
	}
	filled := 0
	if len(r.KeyMetrics) > 0 {
		filled++
	}
	if r.ImpactRating >= 1 && r.ImpactRating <= 5 {
		filled++
	}
	if strings.TrimSpace(r.FutureDecisions) != "" {
		filled++
	}
	if strings.TrimSpace(r.InvestmentNeeds) != "" {
		filled++
	}
	if filled < 2 {
		return validationErrorf("impact measurement requires at least 2 of 4 structured fields, got %d", filled)
	}
	for i, m := range r.KeyMetrics {
		if !metricKinds[m.Kind] {
			return validationErrorf("metric %d has unknown kind %q", i, m.Kind)
		}
	}
	return nil
}

func marshalImpact(r *ImpactReport) (*string, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// SuggestMetricKind maps a free-text metric name to a kind. Input helper only:
// the caller shows the suggestion before submit and the user can override it.
// Unknown names fall back to Unclassified, never a silent guess.
func SuggestMetricKind(name string) MetricKind {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "revenue", "ingreso", "venta", "sales"):
		return MetricRevenue
	case containsAny(n, "order", "pedido"):
		return MetricOrders
	case containsAny(n, "conversion", "conversión"):
		return MetricConversionRate
	case containsAny(n, "customer", "cliente"):
		return MetricCustomers
	case containsAny(n, "hour", "hora", "tiempo"):
		return MetricHoursSaved
	case containsAny(n, "cost", "costo", "gasto"):
		return MetricCostReduction
	default:
		return MetricUnclassified
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
