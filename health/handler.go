package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the monitor's aggregated status as JSON. Healthy and
// degraded systems answer 200 so a brown-out does not get the process
// pulled from rotation; only unhealthy answers 503.
func Handler(monitor *Monitor, systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := monitor.AggregateHealth(systemName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
