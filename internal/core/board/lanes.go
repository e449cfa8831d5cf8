package board

import "slices"

// HoldingLane is where new cards land by default.
const HoldingLane = "Unassigned"

// Lanes is the closed, ordered set of lane names. The first entry is the holding
// lane; the rest are destination lanes.
type Lanes []string

// DefaultLanes are the San Juan neighbours cards are coordinated with.
var DefaultLanes = Lanes{HoldingLane, "Piarco", "Maiquetia", "Curacao", "SantoDomingo", "NewYork"}

// Holding returns the holding lane name.
func (l Lanes) Holding() string {
	if len(l) == 0 {
		return HoldingLane
	}
	return l[0]
}

func (l Lanes) Contains(name string) bool {
	return slices.Contains(l, name)
}

// LanesOf returns the lanes present in s. Names found in known keep that order;
// any others follow in lexical order.
func LanesOf(s State, known Lanes) Lanes {
	out := make(Lanes, 0, len(s.Lanes))
	for _, name := range known {
		if _, ok := s.Lanes[name]; ok {
			out = append(out, name)
		}
	}
	var extra []string
	for name := range s.Lanes {
		if !known.Contains(name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}
