package engine

import "testing"

func TestCheckImpactGate(t *testing.T) {
	cases := []struct {
		name   string
		report *ImpactReport
		ok     bool
	}{
		{"nil report", nil, false},
		{"one reflection", &ImpactReport{
			Reflections:     [3]string{"una", "", ""},
			ImpactRating:    4,
			FutureDecisions: "seguir",
		}, false},
		{"two reflections one field", &ImpactReport{
			Reflections:  [3]string{"una", "dos", ""},
			ImpactRating: 4,
		}, false},
		{"two reflections two fields", &ImpactReport{
			Reflections:     [3]string{"una", "dos", ""},
			ImpactRating:    4,
			FutureDecisions: "seguir",
		}, true},
		{"metrics count as a field", &ImpactReport{
			Reflections:     [3]string{"una", "dos", "tres"},
			KeyMetrics:      []MetricEntry{{Kind: MetricOrders, Name: "pedidos", Value: 12}},
			InvestmentNeeds: "nada",
		}, true},
		{"rating out of range does not count", &ImpactReport{
			Reflections:     [3]string{"una", "dos", ""},
			ImpactRating:    6,
			FutureDecisions: "seguir",
		}, false},
		{"unknown metric kind", &ImpactReport{
			Reflections:     [3]string{"una", "dos", ""},
			KeyMetrics:      []MetricEntry{{Kind: "velocidad", Name: "v", Value: 1}},
			FutureDecisions: "seguir",
		}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := checkImpactGate(c.report)
			if c.ok && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
			if !c.ok && err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestSuggestMetricKind(t *testing.T) {
	cases := []struct {
		text string
		want MetricKind
	}{
		{"aumentar ventas del trimestre", MetricRevenue},
		{"increase quarterly revenue", MetricRevenue},
		{"reducir costes de envío", MetricCostReduction},
		{"más pedidos por semana", MetricOrders},
		{"mejorar la tasa de conversión", MetricConversionRate},
		{"captar nuevos clientes", MetricCustomers},
		{"ahorrar horas del equipo", MetricHoursSaved},
		{"algo sin clasificar", MetricUnclassified},
	}
	for _, c := range cases {
		if got := SuggestMetricKind(c.text); got != c.want {
			t.Errorf("SuggestMetricKind(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}
