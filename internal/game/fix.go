package game

import (
	"strconv"
	"time"
)

// Activity labels stored for a tracked user. Raw vendor labels outside this
// set pass through unchanged.
const (
	ActivityInVehicle = "in_vehicle"
	ActivityWalking   = "walking"
	ActivityStill     = "still"
	ActivityOnBicycle = "on_bicycle"
	ActivityUnknown   = "unknown"
)

// NormalizeActivity maps the vendor label "on_foot" to the display label
// "walking". Every other label passes through as-is.
func NormalizeActivity(raw string) string {
	if raw == "on_foot" {
		return ActivityWalking
	}
	return raw
}

// Fix is a validated location fix ready to be written to the store.
type Fix struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Speed     float64
	Battery   float64
	Activity  string
	UpdatedAt time.Time
}

// FixFromBatch validates one bulk-RPC record. A record missing any required
// numeric field yields ok=false and must be skipped entirely.
func FixFromBatch(rec BatchLocation) (Fix, bool) {
	if rec.Lat == nil || rec.Lng == nil || rec.Accuracy == nil || rec.Speed == nil || rec.Battery == nil {
		return Fix{}, false
	}
	fix := Fix{
		Lat:      *rec.Lat,
		Lng:      *rec.Lng,
		Accuracy: *rec.Accuracy,
		Speed:    *rec.Speed,
		Battery:  *rec.Battery,
		Activity: NormalizeActivity(rec.Activity),
	}
	if rec.UpdatedAt != nil {
		fix.UpdatedAt = *rec.UpdatedAt
	} else {
		fix.UpdatedAt = time.Now().UTC()
	}
	return fix, true
}

// FixFromMapUser validates a single-user RPC record, parsing the stringly
// typed numeric fields. Any unparsable required field invalidates the fix.
func FixFromMapUser(rec MapUser) (Fix, bool) {
	lat, err1 := strconv.ParseFloat(rec.Lat, 64)
	lng, err2 := strconv.ParseFloat(rec.Lng, 64)
	acc, err3 := strconv.ParseFloat(rec.Accuracy, 64)
	speed, err4 := strconv.ParseFloat(rec.Speed, 64)
	battery, err5 := strconv.ParseFloat(rec.Battery, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return Fix{}, false
	}
	fix := Fix{
		Lat:      lat,
		Lng:      lng,
		Accuracy: acc,
		Speed:    speed,
		Battery:  battery,
		Activity: NormalizeActivity(rec.Activity),
	}
	if rec.UpdatedAt != nil {
		fix.UpdatedAt = *rec.UpdatedAt
	} else {
		fix.UpdatedAt = time.Now().UTC()
	}
	return fix, true
}
