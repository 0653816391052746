package pm

import (
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// ctrlFamily and ctrlNotifyGroup identify the generic netlink controller
// and the group announcing family registrations.
const (
	ctrlFamily      = "nlctrl"
	ctrlNotifyGroup = "notify"
)

// parseFamily decodes a controller NEWFAMILY or DELFAMILY message.
func parseFamily(msg genetlink.Message) (genetlink.Family, error) {
	var f genetlink.Family
	ad, err := netlink.NewAttributeDecoder(msg.Data)
	if err != nil {
		return f, err
	}
	for ad.Next() {
		switch ad.Type() {
		case unix.CTRL_ATTR_FAMILY_ID:
			f.ID = ad.Uint16()
		case unix.CTRL_ATTR_FAMILY_NAME:
			f.Name = ad.String()
		case unix.CTRL_ATTR_VERSION:
			f.Version = uint8(ad.Uint32())
		case unix.CTRL_ATTR_MCAST_GROUPS:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					nad.Nested(func(gad *netlink.AttributeDecoder) error {
						var g genetlink.MulticastGroup
						for gad.Next() {
							switch gad.Type() {
							case unix.CTRL_ATTR_MCAST_GRP_NAME:
								g.Name = gad.String()
							case unix.CTRL_ATTR_MCAST_GRP_ID:
								g.ID = gad.Uint32()
							}
						}
						f.Groups = append(f.Groups, g)
						return nil
					})
				}
				return nil
			})
		}
	}
	return f, ad.Err()
}

func findGroup(f genetlink.Family, name string) (uint32, bool) {
	for _, g := range f.Groups {
		if g.Name == name {
			return g.ID, true
		}
	}
	return 0, false
}

// handleControl tracks the MPTCP family coming and going. It runs on the
// event loop.
func (m *PathManager) handleControl(msg genetlink.Message) {
	switch msg.Header.Command {
	case unix.CTRL_CMD_NEWFAMILY, unix.CTRL_CMD_DELFAMILY:
	default:
		return
	}

	f, err := parseFamily(msg)
	if err != nil {
		m.logger.Warn("unable to parse generic netlink controller notification", "error", err)
		return
	}
	if f.Name != m.variant.Family {
		return
	}

	if msg.Header.Command == unix.CTRL_CMD_NEWFAMILY {
		m.familyAppeared(f)
	} else {
		m.familyVanished()
	}
}

// familyAppeared records the family and joins its event group. A failure
// to join is only a warning since commands still work.
func (m *PathManager) familyAppeared(f genetlink.Family) {
	if cur := m.family.Load(); cur != nil {
		if cur.ID == f.ID {
			return
		}
		m.familyVanished()
	}

	m.logger.Info("MPTCP generic netlink family appeared", "family", f.Name, "id", f.ID)

	if id, ok := findGroup(f, m.variant.EventGroup); !ok {
		m.logger.Warn("MPTCP event multicast group not found", "group", m.variant.EventGroup)
	} else if err := m.events.JoinGroup(id); err != nil {
		m.logger.Warn("unable to join MPTCP event multicast group", "group", m.variant.EventGroup, "error", err)
	} else {
		m.groups = append(m.groups, id)
	}

	m.family.Store(&f)
	m.metrics.SetFamilyPresent(true)
}

// familyVanished drops group membership. It is a no-op when the family is
// not present.
func (m *PathManager) familyVanished() {
	if m.family.Load() == nil {
		return
	}
	m.leaveGroups()
	m.family.Store(nil)
	m.logger.Warn("MPTCP generic netlink family vanished", "family", m.variant.Family)
	m.metrics.SetFamilyPresent(false)
}

func (m *PathManager) leaveGroups() {
	for _, id := range m.groups {
		if err := m.events.LeaveGroup(id); err != nil {
			m.logger.Debug("unable to leave multicast group", "group", id, "error", err)
		}
	}
	m.groups = nil
}

// checkFamilyTimeout warns once when the family never showed up.
func (m *PathManager) checkFamilyTimeout() {
	if m.Ready() || m.timeoutWarned {
		return
	}
	m.timeoutWarned = true
	m.logger.Warn("MPTCP generic netlink family has not appeared; is MPTCP enabled in the kernel?",
		"family", m.variant.Family, "waited", m.familyTimeout)
}
