package pm

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/pkg/mptcpd"
)

var (
	// ErrQueueFull is returned when too many commands are awaiting replies.
	ErrQueueFull = errors.New("path manager command queue full")

	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("path manager closed")
)

// commandQueueLen bounds commands awaiting a kernel reply.
const commandQueueLen = 64

// errnoENOTSUPP is the kernel-internal ENOTSUPP some handlers leak to
// userspace.
const errnoENOTSUPP = unix.Errno(524)

// CommandError wraps a command failure with its outcome label.
type CommandError struct {
	Command mptcp.Command
	Err     error
	outcome string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Outcome labels the failure for the commands metric.
func (e *CommandError) Outcome() string { return e.outcome }

func commandError(cmd mptcp.Command, err error) error {
	if err == nil {
		return nil
	}
	outcome := "error"
	switch {
	case errors.Is(err, mptcpd.ErrNotReady):
		outcome = "not_ready"
	case errors.Is(err, mptcpd.ErrNotSupported):
		outcome = "not_supported"
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, errnoENOTSUPP):
		err = fmt.Errorf("%w: %w", mptcpd.ErrNotSupported, err)
		outcome = "not_supported"
	case errors.Is(err, unix.EINVAL), errors.Is(err, mptcpd.ErrBadAddress):
		outcome = "invalid"
	case errors.Is(err, ErrQueueFull):
		outcome = "queue_full"
	}
	return &CommandError{Command: cmd, Err: err, outcome: outcome}
}

// encoder builds the attribute payload of each command for one kernel API.
// Commands the API lacks return mptcpd.ErrNotSupported.
type encoder interface {
	addAddr(addr netip.AddrPort, id mptcpd.AddressID, flags mptcpd.AddrFlags, index int, token mptcpd.Token) ([]byte, error)
	removeAddr(id mptcpd.AddressID, token mptcpd.Token) ([]byte, error)
	getAddr(id mptcpd.AddressID) ([]byte, error)
	setLimits(limits []mptcpd.Limit) ([]byte, error)
	addSubflow(token mptcpd.Token, localID, remoteID mptcpd.AddressID, laddr, raddr netip.AddrPort, backup bool) ([]byte, error)
	removeSubflow(token mptcpd.Token, laddr, raddr netip.AddrPort) ([]byte, error)
	setBackup(token mptcpd.Token, laddr, raddr netip.AddrPort, backup bool) ([]byte, error)
}

func encoderFor(v *mptcp.Variant, m *PathManager) encoder {
	if v == mptcp.MultipathTCPOrg {
		return orgEncoder{logger: m.logger}
	}
	return upstreamEncoder{logger: m.logger}
}

// request is a command waiting for the worker.
type request struct {
	cmd    mptcp.Command
	msg    genetlink.Message
	family uint16
	flags  netlink.HeaderFlags
	reply  func([]genetlink.Message, error)
}

// issue validates and queues one command. encode runs only when the family
// is present and the API provides cmd.
func (m *PathManager) issue(cmd mptcp.Command, dump bool, encode func() ([]byte, error), reply func([]genetlink.Message, error)) error {
	fam := m.family.Load()
	if fam == nil {
		return m.rejected(cmd, mptcpd.ErrNotReady)
	}
	id, ok := m.variant.CommandID(cmd)
	if !ok {
		return m.rejected(cmd, mptcpd.ErrNotSupported)
	}

	var data []byte
	if encode != nil {
		var err error
		if data, err = encode(); err != nil {
			return m.rejected(cmd, err)
		}
	}

	flags := netlink.Request | netlink.Acknowledge
	switch {
	case dump:
		flags = netlink.Request | netlink.Dump
	case cmd == mptcp.CmdGetAddr || cmd == mptcp.CmdGetLimits:
		flags = netlink.Request
	}

	req := &request{
		cmd: cmd,
		msg: genetlink.Message{
			Header: genetlink.Header{Command: id, Version: fam.Version},
			Data:   data,
		},
		family: fam.ID,
		flags:  flags,
		reply:  reply,
	}

	select {
	case <-m.closing:
		return ErrClosed
	default:
	}
	select {
	case m.cmdq <- req:
		return nil
	default:
		return m.rejected(cmd, ErrQueueFull)
	}
}

func (m *PathManager) rejected(cmd mptcp.Command, err error) error {
	err = commandError(cmd, err)
	m.metrics.RecordCommand(cmd.String(), err)
	return err
}

// worker sends queued commands and posts each reply to the event loop.
func (m *PathManager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.closing:
			return
		case req := <-m.cmdq:
			msgs, err := m.cmds.Execute(req.msg, req.family, req.flags)
			err = commandError(req.cmd, err)
			m.metrics.RecordCommand(req.cmd.String(), err)
			m.post(func() { req.reply(msgs, err) })
		}
	}
}

// ack adapts a completion callback. Failures without a callback are logged.
func (m *PathManager) ack(cmd mptcp.Command, done mptcpd.Done) func([]genetlink.Message, error) {
	return func(_ []genetlink.Message, err error) {
		if done != nil {
			done(err)
			return
		}
		if err != nil {
			m.logger.Error("path management command failed", "command", cmd, "error", err)
		}
	}
}

// Ready reports whether the kernel MPTCP family is present.
func (m *PathManager) Ready() bool {
	return m.family.Load() != nil
}

// AddAddr advertises a local address.
func (m *PathManager) AddAddr(addr netip.AddrPort, id mptcpd.AddressID, flags mptcpd.AddrFlags, index int, token mptcpd.Token, done mptcpd.Done) error {
	return m.issue(mptcp.CmdAddAddr, false, func() ([]byte, error) {
		return m.enc.addAddr(addr, id, flags, index, token)
	}, m.ack(mptcp.CmdAddAddr, done))
}

// RemoveAddr withdraws an advertised address.
func (m *PathManager) RemoveAddr(id mptcpd.AddressID, token mptcpd.Token, done mptcpd.Done) error {
	return m.issue(mptcp.CmdRemoveAddr, false, func() ([]byte, error) {
		return m.enc.removeAddr(id, token)
	}, m.ack(mptcp.CmdRemoveAddr, done))
}

// AddSubflow asks the kernel to create a subflow.
func (m *PathManager) AddSubflow(token mptcpd.Token, localID, remoteID mptcpd.AddressID, laddr, raddr netip.AddrPort, backup bool, done mptcpd.Done) error {
	return m.issue(mptcp.CmdAddSubflow, false, func() ([]byte, error) {
		return m.enc.addSubflow(token, localID, remoteID, laddr, raddr, backup)
	}, m.ack(mptcp.CmdAddSubflow, done))
}

// SetBackup changes the priority of a subflow.
func (m *PathManager) SetBackup(token mptcpd.Token, laddr, raddr netip.AddrPort, backup bool, done mptcpd.Done) error {
	return m.issue(mptcp.CmdSetBackup, false, func() ([]byte, error) {
		return m.enc.setBackup(token, laddr, raddr, backup)
	}, m.ack(mptcp.CmdSetBackup, done))
}

// RemoveSubflow closes a subflow.
func (m *PathManager) RemoveSubflow(token mptcpd.Token, laddr, raddr netip.AddrPort, done mptcpd.Done) error {
	return m.issue(mptcp.CmdRemoveSubflow, false, func() ([]byte, error) {
		return m.enc.removeSubflow(token, laddr, raddr)
	}, m.ack(mptcp.CmdRemoveSubflow, done))
}

// GetAddr fetches one endpoint.
func (m *PathManager) GetAddr(id mptcpd.AddressID, done func(mptcpd.AddrInfo, error)) error {
	if done == nil {
		return commandError(mptcp.CmdGetAddr, fmt.Errorf("%w: nil completion", unix.EINVAL))
	}
	return m.issue(mptcp.CmdGetAddr, false, func() ([]byte, error) {
		return m.enc.getAddr(id)
	}, func(msgs []genetlink.Message, err error) {
		if err != nil {
			done(mptcpd.AddrInfo{}, err)
			return
		}
		infos, err := decodeAddrReplies(msgs)
		switch {
		case err != nil:
			done(mptcpd.AddrInfo{}, err)
		case len(infos) == 0:
			done(mptcpd.AddrInfo{}, commandError(mptcp.CmdGetAddr, unix.ENOENT))
		default:
			done(infos[0], nil)
		}
	})
}

// DumpAddrs fetches every endpoint.
func (m *PathManager) DumpAddrs(done func([]mptcpd.AddrInfo, error)) error {
	if done == nil {
		return commandError(mptcp.CmdDumpAddrs, fmt.Errorf("%w: nil completion", unix.EINVAL))
	}
	return m.issue(mptcp.CmdDumpAddrs, true, nil, func(msgs []genetlink.Message, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(decodeAddrReplies(msgs))
	})
}

// FlushAddrs removes every endpoint.
func (m *PathManager) FlushAddrs(done mptcpd.Done) error {
	return m.issue(mptcp.CmdFlushAddrs, false, nil, m.ack(mptcp.CmdFlushAddrs, done))
}

// SetLimits updates path manager limits. An empty list is EINVAL.
func (m *PathManager) SetLimits(limits []mptcpd.Limit, done mptcpd.Done) error {
	return m.issue(mptcp.CmdSetLimits, false, func() ([]byte, error) {
		return m.enc.setLimits(limits)
	}, m.ack(mptcp.CmdSetLimits, done))
}

// GetLimits fetches path manager limits.
func (m *PathManager) GetLimits(done func([]mptcpd.Limit, error)) error {
	if done == nil {
		return commandError(mptcp.CmdGetLimits, fmt.Errorf("%w: nil completion", unix.EINVAL))
	}
	return m.issue(mptcp.CmdGetLimits, false, nil, func(msgs []genetlink.Message, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(decodeLimitsReply(msgs))
	})
}

// Interfaces returns the monitored network interfaces.
func (m *PathManager) Interfaces() []mptcpd.Interface {
	if m.monitor == nil {
		return nil
	}
	return m.monitor.Interfaces()
}

// commandAddr validates an address argument and strips IPv4 mapping.
func commandAddr(ap netip.AddrPort) (netip.Addr, error) {
	addr := ap.Addr().Unmap()
	if !addr.IsValid() {
		return netip.Addr{}, mptcpd.ErrBadAddress
	}
	return addr, nil
}

func putAddr(ae *netlink.AttributeEncoder, v4, v6 uint16, addr netip.Addr) {
	if addr.Is4() {
		b := addr.As4()
		ae.Bytes(v4, b[:])
		return
	}
	b := addr.As16()
	ae.Bytes(v6, b[:])
}

// putPort writes a port in network byte order.
func putPort(ae *netlink.AttributeEncoder, t uint16, port uint16) {
	ae.Bytes(t, []byte{byte(port >> 8), byte(port)})
}
