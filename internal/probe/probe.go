// Package probe answers whether a host is alive, how far it is and which
// OS family it likely runs, all from a single echo probe.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/lanaudit/lanaudit/internal/model"
)

// Reply is a successful probe outcome.
type Reply struct {
	TTL     int
	Latency time.Duration
}

// Pinger issues echo probes through the system ping binary. Raw ICMP
// sockets need elevated privileges, the ping binary does not, and its
// output carries the reply TTL the OS guess is made from.
type Pinger struct {
	Timeout time.Duration
}

var (
	reTTL     = regexp.MustCompile(`(?i)ttl[=|:](\d+)`)
	reLatency = regexp.MustCompile(`(?i)(?:time|tempo)[=<]\s*(\d+(?:\.\d+)?)\s*ms`)
	reNegativ = regexp.MustCompile(`(?i)unreachable|no route to host`)
)

// Probe pings addr once. It fails with model.ErrProbeTimeout when no reply
// arrived within the bound and model.ErrUnreachable on an explicit negative
// signal such as destination unreachable.
func (p Pinger) Probe(ctx context.Context, addr netip.Addr) (Reply, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ping", pingArgs(addr, timeout)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, model.ErrProbeTimeout
		}
		if reNegativ.Match(out) {
			return Reply{}, model.ErrUnreachable
		}
		// ping exits non-zero on packet loss as well
		return Reply{}, model.ErrProbeTimeout
	}
	if reNegativ.Match(out) {
		return Reply{}, model.ErrUnreachable
	}

	reply, err := ParseReply(out)
	if err != nil {
		return Reply{}, fmt.Errorf("parsing ping output: %w", err)
	}
	return reply, nil
}

// ParseReply extracts TTL and round-trip time from ping output. The
// patterns cover GNU, BSD and Windows flavors. A reply without a TTL is
// an error, the TTL drives the OS fingerprint.
func ParseReply(out []byte) (Reply, error) {
	m := reTTL.FindSubmatch(out)
	if m == nil {
		return Reply{}, errors.New("no ttl in ping reply")
	}
	ttl, err := strconv.Atoi(string(m[1]))
	if err != nil || ttl < 1 || ttl > 255 {
		return Reply{}, fmt.Errorf("implausible ttl %q", m[1])
	}

	reply := Reply{TTL: ttl}
	if lm := reLatency.FindSubmatch(bytes.ToLower(out)); lm != nil {
		if ms, err := strconv.ParseFloat(string(lm[1]), 64); err == nil {
			reply.Latency = time.Duration(ms * float64(time.Millisecond))
		}
	}
	return reply, nil
}

func pingArgs(addr netip.Addr, timeout time.Duration) []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"-n", "1", "-w", strconv.Itoa(int(timeout.Milliseconds())), addr.String()}
	case "darwin":
		return []string{"-c", "1", "-W", strconv.Itoa(int(timeout.Milliseconds())), addr.String()}
	default:
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		return []string{"-c", "1", "-W", strconv.Itoa(secs), addr.String()}
	}
}

// Hostname reverse-resolves addr, returning the first name without its
// trailing dot or "" when the PTR lookup fails. Failures are expected on
// most LANs and are not errors.
func Hostname(ctx context.Context, addr netip.Addr) string {
	names, err := net.DefaultResolver.LookupAddr(ctx, addr.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	name := names[0]
	if len(name) > 0 && name[len(name)-1] == '.' {
		name = name[:len(name)-1]
	}
	return name
}
