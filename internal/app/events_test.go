package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/traderops/backoffice/internal/session"
)

func TestRefreshEventPayload(t *testing.T) {
	payload := refreshEventPayload(session.BatchResult{
		Total:     5,
		Successes: 3,
		Failures:  2,
	})

	assert.Equal(t, map[string]any{
		"type":       "tokens_refreshed",
		"successful": 3,
		"failed":     2,
	}, payload)
}

func TestSweepEventPayload(t *testing.T) {
	payload := sweepEventPayload(session.SweepResult{
		Healthy:      []int64{1, 2, 3},
		ExpiringSoon: []int64{4},
		Expired:      []int64{5, 6},
	})

	assert.Equal(t, map[string]any{
		"type":         "session_health",
		"healthy":      3,
		"expiringSoon": 1,
		"expired":      2,
	}, payload)
}
