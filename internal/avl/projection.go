package avl

// Projection element ids for the selected semantic table. The full
// Teltonika map is ~80 entries; this gateway projects only the subset
// named below explicitly and leaves the rest in Record.ExtraIO.
const (
	ioBatteryVoltage = 67  // mV, 2-byte group
	ioBatteryLevel   = 113 // %, 1-byte group
	ioGNSSStatus     = 69  // bool, 1-byte group
	ioMovementFlag   = 240 // bool, 1-byte group
	ioChargerConn    = 116 // bool, 1-byte group
	ioGSMSignal      = 21  // 1-byte group
	ioPDOP           = 181 // /10, 2-byte group
	ioHDOP           = 182 // /10, 2-byte group
	ioManDown        = 242 // bool, 1-byte group

	geofenceZoneMin = 155
	geofenceZoneMax = 231
)

// project fills in Record's semantic pointer fields from its raw IO
// groups, and populates ExtraIO with everything not covered here.
// Grounded on this codebase's per-protocol field-by-field decode (e.g.
// internal/parser/location.go extracting named fields from a byte
// range); here the source is an id-keyed map rather than a fixed byte
// offset, since Codec 8/8E IO elements are self-describing by id.
func project(r *Record) {
	r.ExtraIO = make(map[uint16]uint64)
	r.GeofenceZones = make(map[int]bool)

	for id, v := range r.IO.OneByte {
		switch id {
		case ioBatteryLevel:
			val := v
			r.BatteryLevelPct = &val
		case ioGNSSStatus:
			val := v != 0
			r.GNSSStatus = &val
		case ioMovementFlag:
			val := v != 0
			r.MovementFlag = &val
		case ioChargerConn:
			val := v != 0
			r.ChargerConnected = &val
		case ioGSMSignal:
			val := v
			r.GSMSignal = &val
		case ioManDown:
			val := v != 0
			r.ManDown = &val
		default:
			if zone, ok := geofenceZone(id); ok {
				r.GeofenceZones[zone] = v != 0
			} else {
				r.ExtraIO[id] = uint64(v)
			}
		}
	}

	for id, v := range r.IO.TwoByte {
		switch id {
		case ioBatteryVoltage:
			val := v
			r.BatteryVoltageMv = &val
		case ioPDOP:
			val := float64(v) / 10
			r.PDOP = &val
		case ioHDOP:
			val := float64(v) / 10
			r.HDOP = &val
		default:
			if zone, ok := geofenceZone(id); ok {
				r.GeofenceZones[zone] = v != 0
			} else {
				r.ExtraIO[id] = uint64(v)
			}
		}
	}

	for id, v := range r.IO.FourByte {
		if zone, ok := geofenceZone(id); ok {
			r.GeofenceZones[zone] = v != 0
			continue
		}
		r.ExtraIO[id] = uint64(v)
	}

	for id, v := range r.IO.EightByte {
		if zone, ok := geofenceZone(id); ok {
			r.GeofenceZones[zone] = v != 0
			continue
		}
		r.ExtraIO[id] = v
	}
}

// geofenceZone reports whether id falls in the sparse geofence-zone
// range (155-231), returning the zone number.
func geofenceZone(id uint16) (int, bool) {
	if id >= geofenceZoneMin && id <= geofenceZoneMax {
		return int(id - geofenceZoneMin + 1), true
	}
	return 0, false
}
