package opt

import "sync"

// Recent solver runs, kept in process for the admin metrics endpoint.

type key struct {
	Tenant   string
	ReportID string
	Algo     string
}

var (
	mu    sync.Mutex
	store = map[key]Metrics{}
)

func RecordMetrics(tenant, reportID, algo string, m Metrics) {
	mu.Lock()
	store[key{Tenant: tenant, ReportID: reportID, Algo: algo}] = m
	mu.Unlock()
}

func GetMetrics(tenant, reportID string) map[string]Metrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Metrics{}
	for k, v := range store {
		if k.Tenant == tenant && k.ReportID == reportID {
			out[k.Algo] = v
		}
	}
	return out
}
