package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeVolume(t *testing.T) {
	tests := []struct {
		name      string
		balance   float64
		requested float64
		want      float64
	}{
		{"micro account capped", 500, 1.0, 0.01},
		{"micro account under cap", 500, 0.005, 0.005},
		{"mini account capped", 2500, 1.0, 0.05},
		{"mini account under cap", 2500, 0.02, 0.02},
		{"large account uncapped", 10000, 1.5, 1.5},
		{"boundary at micro tier", 1000, 1.0, 0.05},
		{"boundary at mini tier", 5000, 1.0, 1.0},
		{"zero request defaults", 10000, 0, 0.1},
		{"zero request capped on micro account", 500, 0, 0.01},
		{"negative request defaults", 500, -1, 0.01},
		{"zero balance", 0, 0.5, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SizeVolume(tt.balance, tt.requested), 1e-9)
		})
	}
}
