package evidence

// Level is the evidence tier a transaction requires.
type Level int

const (
	LevelNone Level = iota
	LevelPublic
	LevelPublicSealed
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelPublic:
		return "public"
	case LevelPublicSealed:
		return "public+sealed"
	default:
		return "unknown"
	}
}

// LevelPolicy maps a transaction value to the evidence tier it requires.
// Thresholds are deployment configuration supplied by the caller, never
// fixed in this package.
type LevelPolicy func(value float64) Level

// ThresholdPolicy requires public evidence at or above publicAt and a
// sealed bundle as well at or above sealedAt.
func ThresholdPolicy(publicAt, sealedAt float64) LevelPolicy {
	return func(value float64) Level {
		switch {
		case value >= sealedAt:
			return LevelPublicSealed
		case value >= publicAt:
			return LevelPublic
		default:
			return LevelNone
		}
	}
}
