package shared

import "fmt"

// GapType represents the direction of a detected price gap.
type GapType int

const (
	GapUp GapType = iota
	GapDown
)

// String stringifies the provided gap type.
func (g GapType) String() string {
	switch g {
	case GapUp:
		return "up"
	case GapDown:
		return "down"
	default:
		return "unknown"
	}
}

// ParseGapType parses a gap type from its string form.
func ParseGapType(str string) (GapType, error) {
	switch str {
	case "up":
		return GapUp, nil
	case "down":
		return GapDown, nil
	default:
		return 0, fmt.Errorf("unknown gap type: %s", str)
	}
}

// Direction represents market direction.
type Direction int

const (
	Long Direction = iota
	Short
)

// String stringifies the provided direction.
func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}
