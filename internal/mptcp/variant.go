package mptcp

import (
	"fmt"
	"strings"
)

// Event is a kernel-independent MPTCP event kind.
type Event int

const (
	EventUnknown Event = iota
	EventCreated
	EventEstablished
	EventClosed
	EventAnnounced
	EventRemoved
	EventSubEstablished
	EventSubClosed
	EventSubPriority
)

var eventNames = [...]string{
	EventUnknown:        "unknown",
	EventCreated:        "created",
	EventEstablished:    "established",
	EventClosed:         "closed",
	EventAnnounced:      "announced",
	EventRemoved:        "removed",
	EventSubEstablished: "sub_established",
	EventSubClosed:      "sub_closed",
	EventSubPriority:    "sub_priority",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Command is a kernel-independent path manager command.
type Command int

const (
	CmdAddAddr Command = iota
	CmdRemoveAddr
	CmdGetAddr
	CmdDumpAddrs
	CmdFlushAddrs
	CmdSetLimits
	CmdGetLimits
	CmdAddSubflow
	CmdRemoveSubflow
	CmdSetBackup
)

var commandNames = [...]string{
	CmdAddAddr:       "add_addr",
	CmdRemoveAddr:    "remove_addr",
	CmdGetAddr:       "get_addr",
	CmdDumpAddrs:     "dump_addrs",
	CmdFlushAddrs:    "flush_addrs",
	CmdSetLimits:     "set_limits",
	CmdGetLimits:     "get_limits",
	CmdAddSubflow:    "add_subflow",
	CmdRemoveSubflow: "remove_subflow",
	CmdSetBackup:     "set_backup",
}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Variant is one kernel MPTCP generic netlink API.
type Variant struct {
	Name       string
	Family     string
	EventGroup string

	// HasPathManagerAttr reports whether connection-created events may
	// carry AttrPathManager.
	HasPathManagerAttr bool

	events    map[uint8]Event
	commands  map[Command]uint8
	attrSizes map[uint16]int
}

// AttrSize returns the expected payload size of event attribute t: a
// positive byte count, SizeFlag or SizeVariable. ok is false for attribute
// types the API does not define.
func (v *Variant) AttrSize(t uint16) (size int, ok bool) {
	size, ok = v.attrSizes[t]
	return size, ok
}

// Event maps a generic netlink command number to an event kind.
func (v *Variant) Event(cmd uint8) Event {
	if e, ok := v.events[cmd]; ok {
		return e
	}
	return EventUnknown
}

// CommandID returns the generic netlink command number for c. ok is false
// when the variant does not support c.
func (v *Variant) CommandID(c Command) (id uint8, ok bool) {
	id, ok = v.commands[c]
	return id, ok
}

// Supports reports whether the variant implements c.
func (v *Variant) Supports(c Command) bool {
	_, ok := v.commands[c]
	return ok
}

func (v *Variant) String() string {
	return v.Name
}

// Upstream is the Linux kernel "mptcp_pm" API.
var Upstream = &Variant{
	Name:       "upstream",
	Family:     "mptcp_pm",
	EventGroup: "mptcp_pm_events",
	events: map[uint8]Event{
		1:  EventCreated,
		2:  EventEstablished,
		3:  EventClosed,
		6:  EventAnnounced,
		7:  EventRemoved,
		10: EventSubEstablished,
		11: EventSubClosed,
		13: EventSubPriority,
	},
	commands: map[Command]uint8{
		CmdAddAddr:    1,
		CmdRemoveAddr: 2,
		CmdGetAddr:    3,
		CmdDumpAddrs:  3,
		CmdFlushAddrs: 4,
		CmdSetLimits:  5,
		CmdGetLimits:  6,
	},
	// The backup attribute is a u8 in upstream events.
	attrSizes: withAttrs(map[uint16]int{
		AttrBackup:      1,
		AttrResetReason: 4,
		AttrResetFlags:  4,
		AttrServerSide:  1,
	}),
}

// MultipathTCPOrg is the multipath-tcp.org kernel "mptcp" API.
var MultipathTCPOrg = &Variant{
	Name:               "mptcp.org",
	Family:             "mptcp",
	EventGroup:         "mptcp_events",
	HasPathManagerAttr: true,
	events: map[uint8]Event{
		1: EventCreated,
		2: EventEstablished,
		3: EventClosed,
		4: EventAnnounced,
		5: EventRemoved,
		6: EventSubEstablished,
		7: EventSubClosed,
		8: EventSubPriority,
	},
	commands: map[Command]uint8{
		CmdAddAddr:       1,
		CmdRemoveAddr:    2,
		CmdAddSubflow:    3,
		CmdRemoveSubflow: 4,
		CmdSetBackup:     5,
	},
	attrSizes: withAttrs(map[uint16]int{
		AttrBackup:      SizeFlag,
		AttrPathManager: PathManagerNameLen,
	}),
}

// ByName returns the variant called name. The empty name selects Default.
func ByName(name string) (*Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return Default, nil
	case "upstream", Upstream.Family:
		return Upstream, nil
	case "mptcp.org", "multipath-tcp.org", MultipathTCPOrg.Family:
		return MultipathTCPOrg, nil
	}
	return nil, fmt.Errorf("unknown kernel MPTCP API %q", name)
}
