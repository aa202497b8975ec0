package orchestrator

// defaultVolume is used when a signal carries no volume. The tier caps still
// apply on top of it.
const defaultVolume = 0.1

// Balance tiers for volume capping. Small accounts are clamped to micro
// lots, mid-size accounts to mini lots, larger accounts trade as requested.
const (
	microTierBalance = 1000
	miniTierBalance  = 5000
	microTierCap     = 0.01
	miniTierCap      = 0.05
)

// SizeVolume caps the requested volume by the account balance tier. A
// non-positive request falls back to the default lot before capping.
func SizeVolume(balance, requested float64) float64 {
	if requested <= 0 {
		requested = defaultVolume
	}
	switch {
	case balance < microTierBalance:
		return min(requested, microTierCap)
	case balance < miniTierBalance:
		return min(requested, miniTierCap)
	default:
		return requested
	}
}
