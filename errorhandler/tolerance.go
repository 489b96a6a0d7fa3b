package errorhandler

import (
	"fmt"
	"strings"
)

// Tolerance decides whether undecodable input records stop the engine.
type Tolerance int

const (
	ToleranceNone Tolerance = iota
	ToleranceAll
)

func (t Tolerance) String() string {
	switch t {
	case ToleranceNone:
		return "none"
	case ToleranceAll:
		return "all"
	default:
		return "unknown"
	}
}

func ParseTolerance(s string) (Tolerance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ToleranceNone, nil
	case "all":
		return ToleranceAll, nil
	default:
		return ToleranceNone, fmt.Errorf("unknown error tolerance %q", s)
	}
}
