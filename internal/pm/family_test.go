package pm

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/mptcpd/internal/mptcp"
)

// ctrlMsg encodes a controller notification for f.
func ctrlMsg(t *testing.T, cmd uint8, f genetlink.Family) genetlink.Message {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	ae.Uint16(unix.CTRL_ATTR_FAMILY_ID, f.ID)
	ae.String(unix.CTRL_ATTR_FAMILY_NAME, f.Name)
	ae.Uint32(unix.CTRL_ATTR_VERSION, uint32(f.Version))
	ae.Nested(unix.CTRL_ATTR_MCAST_GROUPS, func(nae *netlink.AttributeEncoder) error {
		for i, g := range f.Groups {
			nae.Nested(uint16(i+1), func(gae *netlink.AttributeEncoder) error {
				gae.String(unix.CTRL_ATTR_MCAST_GRP_NAME, g.Name)
				gae.Uint32(unix.CTRL_ATTR_MCAST_GRP_ID, g.ID)
				return nil
			})
		}
		return nil
	})
	b, err := ae.Encode()
	require.NoError(t, err)
	return genetlink.Message{Header: genetlink.Header{Command: cmd}, Data: b}
}

func TestParseFamily(t *testing.T) {
	want := genetlink.Family{
		ID:      0x22,
		Version: 1,
		Name:    "mptcp_pm",
		Groups: []genetlink.MulticastGroup{
			{ID: 7, Name: "mptcp_pm_cmd_events"},
			{ID: 8, Name: "mptcp_pm_events"},
		},
	}
	got, err := parseFamily(ctrlMsg(t, unix.CTRL_CMD_NEWFAMILY, want))
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected family (-want +got):\n%s", diff)
	}

	id, ok := findGroup(got, "mptcp_pm_events")
	assert.True(t, ok)
	assert.Equal(t, uint32(8), id)
}

func TestFamily_PresentAtStartup(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	assert.True(t, h.m.Ready())
	joined, _ := h.conn.groups()
	assert.Equal(t, []uint32{testNotifyGroup, testEventGroup}, joined)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FamilyPresent))
}

func TestFamily_AppearsLater(t *testing.T) {
	h := newHarness(t, harnessConfig{absent: true})
	require.False(t, h.m.Ready())

	// Other families are ignored.
	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_NEWFAMILY, genetlink.Family{ID: 0x30, Name: "wireguard"}))
	require.False(t, h.m.Ready())

	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_NEWFAMILY, testFamily(mptcp.Upstream)))
	assert.True(t, h.m.Ready())
	joined, _ := h.conn.groups()
	assert.Equal(t, []uint32{testNotifyGroup, testEventGroup}, joined)
	require.NoError(t, h.m.FlushAddrs(nil))
}

func TestFamily_VanishAndReappear(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	fam := testFamily(mptcp.Upstream)

	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_DELFAMILY, fam))
	assert.False(t, h.m.Ready())
	_, left := h.conn.groups()
	assert.Equal(t, []uint32{testEventGroup}, left)

	// A second vanish has nothing to undo.
	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_DELFAMILY, fam))
	_, left = h.conn.groups()
	assert.Len(t, left, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FamilyTransitions.WithLabelValues("vanished")))

	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_NEWFAMILY, fam))
	assert.True(t, h.m.Ready())
	joined, _ := h.conn.groups()
	assert.Equal(t, []uint32{testNotifyGroup, testEventGroup, testEventGroup}, joined)

	// A repeated announcement of the same family is ignored.
	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_NEWFAMILY, fam))
	joined, _ = h.conn.groups()
	assert.Len(t, joined, 3)
}

func TestFamily_MissingEventGroup(t *testing.T) {
	h := newHarness(t, harnessConfig{absent: true})

	fam := testFamily(mptcp.Upstream)
	fam.Groups = nil
	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_NEWFAMILY, fam))

	assert.True(t, h.m.Ready(), "commands work without event membership")
	joined, _ := h.conn.groups()
	assert.Equal(t, []uint32{testNotifyGroup}, joined)
}

func TestFamily_TimeoutWarnsOnce(t *testing.T) {
	h := newHarness(t, harnessConfig{absent: true})

	h.m.checkFamilyTimeout()
	assert.True(t, h.m.timeoutWarned)
	h.m.checkFamilyTimeout()
	assert.True(t, h.m.timeoutWarned)
}

func TestRun_FamilyTimeoutWarns(t *testing.T) {
	h := newHarness(t, harnessConfig{absent: true, familyTimeout: 10 * time.Millisecond})
	h.run(t)

	waitFor(t, func() bool {
		return onLoop(t, h.m, func() bool { return h.m.timeoutWarned })
	})
}

func TestRun_NoTimeoutWhenFamilyPresent(t *testing.T) {
	h := newHarness(t, harnessConfig{familyTimeout: 10 * time.Millisecond})
	h.run(t)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, onLoop(t, h.m, func() bool { return h.m.timeoutWarned }))
}

func TestFamily_IgnoresOtherControlCommands(t *testing.T) {
	h := newHarness(t, harnessConfig{absent: true})

	h.m.handleControl(ctrlMsg(t, unix.CTRL_CMD_NEWMCAST_GRP, testFamily(mptcp.Upstream)))
	assert.False(t, h.m.Ready())
}
