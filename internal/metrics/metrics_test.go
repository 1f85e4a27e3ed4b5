package metrics

import "testing"

func counterValue(t *testing.T, family, label, value string) float64 {
	t.Helper()
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if label == "" || (lp.GetName() == label && lp.GetValue() == value) {
					return m.GetCounter().GetValue()
				}
			}
			if label == "" {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestObserveReport(t *testing.T) {
	RegisterDefault()
	RegisterDefault()
	before := counterValue(t, "vrpdiag_unassigned_reasons_total", "code", "SKILL_CONSTRAINT")
	ObserveReport("diagnostics", 0.01, true, map[string]int{"SKILL_CONSTRAINT": 2})
	if got := counterValue(t, "vrpdiag_unassigned_reasons_total", "code", "SKILL_CONSTRAINT"); got != before+2 {
		t.Fatalf("reason counter: got %v want %v", got, before+2)
	}
	if counterValue(t, "vrpdiag_interrupted_reports_total", "", "") < 1 {
		t.Fatal("interrupted counter not incremented")
	}
}
