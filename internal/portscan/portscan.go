// Package portscan attempts TCP connections, grabs service banners and
// forwards them to the CVE matcher.
package portscan

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/lanaudit/lanaudit/internal/match"
	"github.com/lanaudit/lanaudit/internal/model"
)

const maxBanner = 1024

// probes are minimal protocol-appropriate payloads sent before the banner
// read on ports whose service only talks after a request. Everything else
// is read passively, SSH/FTP/SMTP style services greet on their own.
var probes = map[uint16]string{
	80:   "HEAD / HTTP/1.0\r\n\r\n",
	8000: "HEAD / HTTP/1.0\r\n\r\n",
	8008: "HEAD / HTTP/1.0\r\n\r\n",
	8080: "HEAD / HTTP/1.0\r\n\r\n",
	8888: "HEAD / HTTP/1.0\r\n\r\n",
}

// Scanner scans single ports of already probed hosts. The zero value is
// not usable, construct it with the timeouts the run owns.
type Scanner struct {
	connectTimeout time.Duration
	bannerTimeout  time.Duration
	matcher        match.Matcher
}

// New builds a Scanner. matcher may be nil, then no CVE correlation
// happens and candidates stay empty.
func New(connectTimeout, bannerTimeout time.Duration, matcher match.Matcher) *Scanner {
	return &Scanner{
		connectTimeout: connectTimeout,
		bannerTimeout:  bannerTimeout,
		matcher:        matcher,
	}
}

// ScanPort produces the single PortResult for addr:port. Connect refusal
// marks the port closed, a connect timeout marks it filtered. Banner read
// failures are not fatal, the port stays open with an empty banner.
func (s *Scanner) ScanPort(ctx context.Context, addr netip.Addr, port uint16) model.PortResult {
	result := model.PortResult{Port: port, State: model.PortClosed}

	d := net.Dialer{Timeout: s.connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", netip.AddrPortFrom(addr, port).String())
	if err != nil {
		result.State = classifyDialError(err)
		return result
	}
	defer func() {
		_ = conn.Close()
	}()

	result.State = model.PortOpen
	result.Banner = s.readBanner(conn, port)
	if result.Banner != "" && s.matcher != nil {
		result.CVEs = match.IDs(s.matcher.Match(result.Banner))
	}
	return result
}

// readBanner optionally pokes the service and reads the first bytes it
// emits. Partial or empty reads yield an empty banner, never an error.
func (s *Scanner) readBanner(conn net.Conn, port uint16) string {
	deadline := time.Now().Add(s.bannerTimeout)
	_ = conn.SetDeadline(deadline)

	if payload, ok := probes[port]; ok {
		if _, err := conn.Write([]byte(payload)); err != nil {
			return ""
		}
	}

	buf := make([]byte, maxBanner)
	n, err := conn.Read(buf)
	if n == 0 || (err != nil && n <= 0) {
		return ""
	}
	return sanitizeBanner(string(buf[:n]))
}

// classifyDialError maps the connect failure onto the port state taxonomy:
// refusal means closed, silence within the bound means filtered. Anything
// else (e.g. unreachable networks) counts as closed rather than aborting
// the host.
func classifyDialError(err error) model.PortState {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.PortClosed
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return model.PortFiltered
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.PortFiltered
	}
	return model.PortClosed
}

// sanitizeBanner flattens the banner to a single trimmed line so it is
// safe for logs, reports and the tokenizer.
func sanitizeBanner(banner string) string {
	banner = strings.ReplaceAll(banner, "\r", " ")
	banner = strings.ReplaceAll(banner, "\n", " ")
	banner = strings.ReplaceAll(banner, ";", ",")
	banner = strings.Join(strings.Fields(banner), " ")
	if len(banner) > 256 {
		banner = banner[:256]
	}
	return banner
}
