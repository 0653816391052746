package pm

import (
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
)

// Conn is the subset of *genetlink.Conn the path manager uses.
type Conn interface {
	GetFamily(name string) (genetlink.Family, error)
	JoinGroup(group uint32) error
	LeaveGroup(group uint32) error
	Receive() ([]genetlink.Message, []netlink.Message, error)
	Execute(m genetlink.Message, family uint16, flags netlink.HeaderFlags) ([]genetlink.Message, error)
	Close() error
}

// DialFunc opens a generic netlink connection.
type DialFunc func() (Conn, error)

// DialGeneric opens a real generic netlink socket.
func DialGeneric() (Conn, error) {
	c, err := genetlink.Dial(nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}
