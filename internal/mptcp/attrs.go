package mptcp

// Event attribute types, shared by both kernel APIs.
const (
	AttrToken       uint16 = 1
	AttrFamily      uint16 = 2
	AttrLocalID     uint16 = 3
	AttrRemoteID    uint16 = 4
	AttrSAddr4      uint16 = 5
	AttrSAddr6      uint16 = 6
	AttrDAddr4      uint16 = 7
	AttrDAddr6      uint16 = 8
	AttrSPort       uint16 = 9
	AttrDPort       uint16 = 10
	AttrBackup      uint16 = 11
	AttrError       uint16 = 12
	AttrFlags       uint16 = 13
	AttrTimeout     uint16 = 14
	AttrIfIndex     uint16 = 15
	AttrPathManager uint16 = 16 // multipath-tcp.org only

	// Upstream only; these share numbers with AttrPathManager and up.
	AttrResetReason uint16 = 16
	AttrResetFlags  uint16 = 17
	AttrServerSide  uint16 = 18
)

// Attribute payload sizes used by the decoder tables.
const (
	SizeFlag     = 0
	SizeVariable = -1
)

// PathManagerNameLen is the fixed, NUL padded size of AttrPathManager.
const PathManagerNameLen = 16

// Upstream path manager command attributes.
const (
	PMAttrAddr        uint16 = 1
	PMAttrRcvAddAddrs uint16 = 2
	PMAttrSubflows    uint16 = 3
)

// Attributes nested inside PMAttrAddr.
const (
	AddrAttrFamily  uint16 = 1
	AddrAttrID      uint16 = 2
	AddrAttrAddr4   uint16 = 3
	AddrAttrAddr6   uint16 = 4
	AddrAttrPort    uint16 = 5
	AddrAttrFlags   uint16 = 6
	AddrAttrIfIndex uint16 = 7
)

// commonAttrSizes lists the event attributes both APIs define.
var commonAttrSizes = map[uint16]int{
	AttrToken:    4,
	AttrFamily:   2,
	AttrLocalID:  1,
	AttrRemoteID: 1,
	AttrSAddr4:   4,
	AttrSAddr6:   16,
	AttrDAddr4:   4,
	AttrDAddr6:   16,
	AttrSPort:    2,
	AttrDPort:    2,
	AttrError:    1,
	AttrFlags:    2,
	AttrTimeout:  4,
	AttrIfIndex:  4,
}

func withAttrs(extra map[uint16]int) map[uint16]int {
	m := make(map[uint16]int, len(commonAttrSizes)+len(extra))
	for k, v := range commonAttrSizes {
		m[k] = v
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// AttrName returns a short name for an event attribute, for logging.
func AttrName(t uint16) string {
	if n, ok := attrNames[t]; ok {
		return n
	}
	return "unknown"
}

var attrNames = map[uint16]string{
	AttrToken:       "token",
	AttrFamily:      "family",
	AttrLocalID:     "loc_id",
	AttrRemoteID:    "rem_id",
	AttrSAddr4:      "saddr4",
	AttrSAddr6:      "saddr6",
	AttrDAddr4:      "daddr4",
	AttrDAddr6:      "daddr6",
	AttrSPort:       "sport",
	AttrDPort:       "dport",
	AttrBackup:      "backup",
	AttrError:       "error",
	AttrFlags:       "flags",
	AttrTimeout:     "timeout",
	AttrIfIndex:     "if_idx",
	AttrPathManager: "path_manager",
}
