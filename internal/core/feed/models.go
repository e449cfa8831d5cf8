package feed

import (
	"strconv"
	"time"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
)

// vatsimData is the subset of the VATSIM v3 data file the feed reads.
type vatsimData struct {
	General struct {
		UpdateTimestamp string `json:"update_timestamp"`
	} `json:"general"`
	Pilots []vatsimPilot `json:"pilots"`
}

type vatsimPilot struct {
	CID         int         `json:"cid"`
	Callsign    string      `json:"callsign"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Altitude    int         `json:"altitude"`
	Groundspeed int         `json:"groundspeed"`
	Transponder string      `json:"transponder"`
	FlightPlan  *flightPlan `json:"flight_plan"`
}

type flightPlan struct {
	Aircraft  string `json:"aircraft_short"`
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
	Altitude  string `json:"altitude"`
	Route     string `json:"route"`
}

// Flight is one live flight offered for adding to the board.
type Flight struct {
	Callsign    string  `json:"callsign"`
	Aircraft    string  `json:"aircraft,omitempty"`
	Departure   string  `json:"departure,omitempty"`
	Arrival     string  `json:"arrival,omitempty"`
	Route       string  `json:"route,omitempty"`
	Altitude    string  `json:"altitude,omitempty"`
	Squawk      string  `json:"squawk,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Groundspeed int     `json:"groundspeed"`
}

// Snapshot is the read-only list served to clients. Error is set, and Stale
// true, when the most recent poll failed and Flights is from an earlier one.
type Snapshot struct {
	Flights   []Flight  `json:"flights"`
	FetchedAt time.Time `json:"fetchedAt"`
	Error     string    `json:"error,omitempty"`
	Stale     bool      `json:"stale"`
}

// ToItem turns a feed flight into a new board card with its route derived.
func (f Flight) ToItem() board.Item {
	item := board.NewItem(f.Callsign, board.SourceVATSIM, f.Route)
	item.Altitude = f.Altitude
	item.Squawk = f.Squawk
	return item
}

func fromPilot(p vatsimPilot) Flight {
	f := Flight{
		Callsign:    board.NormalizeCallsign(p.Callsign),
		Squawk:      p.Transponder,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Groundspeed: p.Groundspeed,
	}
	if p.FlightPlan != nil {
		f.Aircraft = p.FlightPlan.Aircraft
		f.Departure = p.FlightPlan.Departure
		f.Arrival = p.FlightPlan.Arrival
		f.Route = p.FlightPlan.Route
		f.Altitude = formatLevel(p.FlightPlan.Altitude)
	}
	return f
}

// formatLevel renders a filed altitude of 18000ft or more as a flight level.
func formatLevel(filed string) string {
	feet, err := strconv.Atoi(filed)
	if err != nil {
		return filed
	}
	if feet >= 18000 {
		return "FL" + strconv.Itoa(feet/100)
	}
	return filed
}
