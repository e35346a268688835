package application

import (
	"net/http"

	"github.com/touchlink/gateway/internal/health"
	"github.com/touchlink/gateway/internal/telemetry"
)

// storePinger converts a possibly-nil store into the health interface
// without producing a typed-nil interface value.
func storePinger(store *telemetry.Store) health.StorePinger {
	if store == nil {
		return nil
	}
	return store
}

func healthHandler(checker *health.HealthChecker) http.Handler {
	return http.HandlerFunc(checker.HandleHealth)
}
