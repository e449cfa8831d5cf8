package board

import (
	"regexp"
	"strings"
)

var (
	// N0450F350, M082F370, K0830S1130 ...
	speedLevelToken = regexp.MustCompile(`^[NKM]\d{3,4}[FAVMS]\d{3,4}$`)
	// UL695, A555, G633, M597, UM525 ...
	airwayToken = regexp.MustCompile(`^[A-Z]{1,2}\d{1,4}$`)
)

// ParseRoute extracts the waypoints from a filed ICAO route string. Speed and
// level groups and DCT are dropped, as is anything after a slash on a waypoint
// (e.g. KEEKA/N0450F370 becomes KEEKA). An airway-looking token is only dropped
// when it sits directly between two waypoints; elsewhere it is kept as a point.
func ParseRoute(route string) []string {
	tokens := strings.Fields(strings.ToUpper(route))
	for i, tok := range tokens {
		if idx := strings.IndexByte(tok, '/'); idx >= 0 {
			tokens[i] = tok[:idx]
		}
	}

	out := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		switch {
		case tok == "", tok == "DCT", speedLevelToken.MatchString(tok):
			continue
		case airwayToken.MatchString(tok) &&
			i > 0 && isWaypoint(tokens[i-1]) &&
			i+1 < len(tokens) && isWaypoint(tokens[i+1]):
			continue
		}
		if n := len(out); n > 0 && out[n-1] == tok {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func isWaypoint(tok string) bool {
	return tok != "" && tok != "DCT" &&
		!speedLevelToken.MatchString(tok) && !airwayToken.MatchString(tok)
}
