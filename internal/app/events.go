package app

import "github.com/traderops/backoffice/internal/session"

// refreshEventPayload shapes the session_update event emitted after a bulk
// token refresh pass.
func refreshEventPayload(result session.BatchResult) map[string]any {
	return map[string]any{
		"type":       "tokens_refreshed",
		"successful": result.Successes,
		"failed":     result.Failures,
	}
}

// sweepEventPayload shapes the session_update event emitted after an expiry
// sweep, counting sessions per health bucket.
func sweepEventPayload(result session.SweepResult) map[string]any {
	return map[string]any{
		"type":         "session_health",
		"healthy":      len(result.Healthy),
		"expiringSoon": len(result.ExpiringSoon),
		"expired":      len(result.Expired),
	}
}
