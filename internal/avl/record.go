package avl

import "time"

// GPS holds the positional fields of one AVL record.
type GPS struct {
	LongitudeE7 int32
	LatitudeE7  int32
	AltitudeM   int16
	HeadingDeg  uint16
	Satellites  uint8
	SpeedKmh    uint16
}

// PositionValid reports whether enough satellites were in view for the
// fix to be trustworthy.
func (g GPS) PositionValid() bool {
	return g.Satellites >= 3
}

// Longitude returns the decimal-degree longitude.
func (g GPS) Longitude() float64 { return float64(g.LongitudeE7) / 1e7 }

// Latitude returns the decimal-degree latitude.
func (g GPS) Latitude() float64 { return float64(g.LatitudeE7) / 1e7 }

// IsZero reports whether the position is the (0,0) sentinel that callers
// should treat as absent rather than a real fix near Null Island.
func (g GPS) IsZero() bool {
	return g.LongitudeE7 == 0 && g.LatitudeE7 == 0
}

// IOGroups holds the four fixed-width element groups, keyed by element
// id: a tagged union per group width in place of a single
// dynamically-shaped map.
type IOGroups struct {
	OneByte  map[uint16]uint8
	TwoByte  map[uint16]uint16
	FourByte map[uint16]uint32
	// EightByte stores 8-byte elements (Codec 8 Extended only in
	// practice, but the struct is codec-agnostic).
	EightByte map[uint16]uint64
}

func newIOGroups() IOGroups {
	return IOGroups{
		OneByte:   make(map[uint16]uint8),
		TwoByte:   make(map[uint16]uint16),
		FourByte:  make(map[uint16]uint32),
		EightByte: make(map[uint16]uint64),
	}
}

// Total returns the combined element count across all four groups.
func (g IOGroups) Total() int {
	return len(g.OneByte) + len(g.TwoByte) + len(g.FourByte) + len(g.EightByte)
}

// Record is one decoded AVL record, including
// the semantic projections pulled out of its IO elements and a residual
// map of everything not in the static projection table.
type Record struct {
	TimestampMs int64
	Priority    uint8
	GPS         GPS
	EventIoID   uint16
	IO          IOGroups

	// Semantic projections, populated by project() when the
	// corresponding IO element id is present. Pointer fields are nil
	// when the element was absent from the record.
	BatteryVoltageMv *uint16
	BatteryLevelPct  *uint8
	GNSSStatus       *bool
	MovementFlag     *bool
	ChargerConnected *bool
	GSMSignal        *uint8
	PDOP             *float64
	HDOP             *float64
	ManDown          *bool
	GeofenceZones    map[int]bool // zone number -> active

	// ExtraIO holds every element id not covered by the static
	// projection table, keyed by id, with every value widened to uint64;
	// the original width is only recoverable from IO.
	ExtraIO map[uint16]uint64
}

// Timestamp returns the record's timestamp as a time.Time in UTC.
func (r Record) Timestamp() time.Time {
	return time.UnixMilli(r.TimestampMs).UTC()
}

// HasValidCoordinates reports whether the position is usable: (0,0) and
// non-finite values never drive movement state or appear in a walk. The
// wire format can't produce NaN (fixed-width integers), so this reduces
// to the non-zero check.
func (r Record) HasValidCoordinates() bool {
	return !r.GPS.IsZero()
}
