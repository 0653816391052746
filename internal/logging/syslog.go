package logging

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultSyslogSocket is the local syslog datagram socket.
const DefaultSyslogSocket = "/dev/log"

// SyslogConfig holds syslog target configuration.
type SyslogConfig struct {
	Network  string // unixgram (local), udp or tcp
	Address  string // socket path or host:port
	Tag      string // Syslog tag/app name (default: mptcpd)
	Facility int    // Syslog facility (default: 3 = daemon)
}

// DefaultSyslogConfig returns the local daemon-facility target.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Network:  "unixgram",
		Address:  DefaultSyslogSocket,
		Tag:      "mptcpd",
		Facility: 3, // LOG_DAEMON
	}
}

// ParseSyslogURL parses syslog://host[:port] or syslog+tcp://host[:port].
func ParseSyslogURL(raw string) (SyslogConfig, error) {
	cfg := DefaultSyslogConfig()
	u, err := url.Parse(raw)
	if err != nil {
		return cfg, fmt.Errorf("invalid syslog target %q: %w", raw, err)
	}
	switch u.Scheme {
	case "syslog":
		cfg.Network = "udp"
	case "syslog+tcp":
		cfg.Network = "tcp"
	default:
		return cfg, fmt.Errorf("invalid syslog scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return cfg, fmt.Errorf("syslog host is required")
	}
	port := 514
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("invalid syslog port %q", p)
		}
	}
	cfg.Address = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	return cfg, nil
}

// SyslogWriter implements io.Writer and sends each write as one syslog record.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	config   SyslogConfig
	hostname string
}

// NewSyslogWriter creates a new syslog writer.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("syslog address is required")
	}
	if cfg.Network == "" {
		cfg.Network = "unixgram"
	}
	if cfg.Tag == "" {
		cfg.Tag = "mptcpd"
	}

	conn, err := net.DialTimeout(cfg.Network, cfg.Address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog %s: %w", cfg.Address, err)
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}

	return &SyslogWriter{
		conn:     conn,
		config:   cfg,
		hostname: host,
	}, nil
}

// Write formats p as RFC 3164: <priority>timestamp hostname tag[pid]: message
func (w *SyslogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return 0, fmt.Errorf("syslog connection closed")
	}

	// Priority = facility * 8 + severity (info)
	priority := w.config.Facility*8 + 6
	msg := formatRFC3164(priority, time.Now(), w.hostname, w.config.Tag, p)

	if _, err = w.conn.Write(msg); err != nil {
		w.reconnect()
		return 0, err
	}
	return len(p), nil
}

func formatRFC3164(priority int, t time.Time, host, tag string, p []byte) []byte {
	return fmt.Appendf(nil, "<%d>%s %s %s[%d]: %s", priority, t.Format(time.Stamp), host, tag, os.Getpid(), p)
}

func (w *SyslogWriter) reconnect() {
	if w.conn != nil {
		w.conn.Close()
	}
	conn, err := net.DialTimeout(w.config.Network, w.config.Address, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "syslog: reconnect to %s failed: %v\n", w.config.Address, err)
		w.conn = nil
		return
	}
	w.conn = conn
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}
