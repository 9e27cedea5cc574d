package model

import (
	"fmt"
	"io"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Enum helpers.
const (
	LogJSON    = "json"
	LogConsole = "console"
)

// commonPorts is the default scan set: remote access, web, databases,
// Windows networking, printing, directory services and mail.
var commonPorts = []uint16{
	20, 21, 22, 23, 25, 53, 69, 80, 88, 110, 111, 135, 137, 138, 139, 143,
	161, 389, 443, 445, 465, 515, 587, 631, 636, 873, 993, 995, 1433, 1521,
	2181, 3000, 3306, 3389, 5000, 5432, 5601, 5900, 5985, 5986, 6379, 8000,
	8080, 8443, 8888, 9090, 9100, 9200, 9300, 11211, 27017,
}

// Duration wraps time.Duration so YAML accepts values like "500ms" or "2s".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the whole configuration surface of the scanner. One Config and
// the objects built from it carry all scan state, there is no ambient
// process-wide state, so independent scans can run in isolation.
type Config struct {
	Version  int      `yaml:"version"` // fixed 0 for now
	Targets  []string `yaml:"targets"` // IP, CIDR or last-octet range
	Ports    string   `yaml:"ports,omitempty"`
	Timeouts Timeouts `yaml:"timeouts,omitempty"`
	// MaxInFlight caps simultaneously open sockets and probes across the
	// whole run, not per host.
	MaxInFlight int         `yaml:"max_in_flight,omitempty"`
	TTLWindows  []TTLWindow `yaml:"ttl_windows,omitempty"`
	NVD         NVD         `yaml:"nvd,omitempty"`
	Match       Match       `yaml:"match,omitempty"`
	Service     Service     `yaml:"service,omitempty"`
}

// Timeouts bound every blocking network operation.
type Timeouts struct {
	Probe   Duration `yaml:"probe,omitempty"`
	Connect Duration `yaml:"connect,omitempty"`
	Banner  Duration `yaml:"banner,omitempty"`
}

// TTLWindow declares a TTL tolerance window for one operating system class.
type TTLWindow struct {
	OS OSGuess `yaml:"os"`
	Lo int     `yaml:"lo"`
	Hi int     `yaml:"hi"`
}

// NVD configures the local vulnerability feed cache.
type NVD struct {
	FeedURL  string   `yaml:"feed_url,omitempty"`
	CacheDir string   `yaml:"cache_dir,omitempty"`
	MaxAge   Duration `yaml:"max_age,omitempty"`
}

// Match configures the banner to CVE correlation.
type Match struct {
	// MinTokens is the minimal count of distinct banner tokens a CVE
	// description must share to become a candidate.
	MinTokens int `yaml:"min_tokens,omitempty"`
}

// Service holds the output concerns.
type Service struct {
	Verbose bool   `yaml:"verbose,omitempty"`
	Log     string `yaml:"log,omitempty"` // "json" | "console"
}

// DefaultConfig returns a configuration which scans nothing until targets
// are filled in, with conservative timeouts.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Ports:   "common",
		Timeouts: Timeouts{
			Probe:   Duration(2 * time.Second),
			Connect: Duration(1500 * time.Millisecond),
			Banner:  Duration(1 * time.Second),
		},
		MaxInFlight: 128,
		NVD: NVD{
			FeedURL: "https://nvd.nist.gov/feeds/json/cve/1.1/nvdcve-1.1-recent.json.gz",
			MaxAge:  Duration(7 * 24 * time.Hour),
		},
		Match: Match{MinTokens: 1},
		Service: Service{
			Log: LogConsole,
		},
	}
}

// LoadConfig decodes YAML from r and validates it.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Version != 0 {
		return fmt.Errorf("config version %d is not supported, expected 0", c.Version)
	}
	if _, err := c.ExpandTargets(); err != nil {
		return err
	}
	if _, err := ParsePorts(c.Ports); err != nil {
		return err
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be at least 1, got %d", c.MaxInFlight)
	}
	for _, w := range c.TTLWindows {
		if w.Lo > w.Hi || w.Lo < 0 || w.Hi > 255 {
			return fmt.Errorf("ttl window %s: invalid bounds %d-%d", w.OS, w.Lo, w.Hi)
		}
	}
	return nil
}

// ExpandTargets converts the target specs into a deduplicated, sorted list
// of addresses. Supported forms:
//
//	10.0.0.5          single address
//	10.0.0.0/28       CIDR prefix (network and broadcast skipped for IPv4)
//	10.0.0.10-20      last octet range
func (c Config) ExpandTargets() ([]netip.Addr, error) {
	seen := make(map[netip.Addr]struct{})
	var addrs []netip.Addr
	add := func(a netip.Addr) {
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		addrs = append(addrs, a)
	}

	for _, spec := range c.Targets {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		switch {
		case strings.Contains(spec, "/"):
			prefix, err := netip.ParsePrefix(spec)
			if err != nil {
				return nil, fmt.Errorf("target %q: %w", spec, err)
			}
			expanded, err := expandPrefix(prefix)
			if err != nil {
				return nil, fmt.Errorf("target %q: %w", spec, err)
			}
			for _, a := range expanded {
				add(a)
			}
		case strings.Contains(spec, "-"):
			expanded, err := expandRange(spec)
			if err != nil {
				return nil, err
			}
			for _, a := range expanded {
				add(a)
			}
		default:
			a, err := netip.ParseAddr(spec)
			if err != nil {
				return nil, fmt.Errorf("target %q: %w", spec, err)
			}
			add(a)
		}
	}

	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
	return addrs, nil
}

// expandPrefix lists the usable addresses of a prefix. To keep scans of big
// networks a deliberate choice, prefixes shorter than /16 are rejected.
func expandPrefix(prefix netip.Prefix) ([]netip.Addr, error) {
	prefix = prefix.Masked()
	if prefix.Addr().Is4() && prefix.Bits() < 16 {
		return nil, fmt.Errorf("prefix /%d too wide, minimum is /16", prefix.Bits())
	}
	if prefix.Addr().Is6() && prefix.Bits() < 112 {
		return nil, fmt.Errorf("prefix /%d too wide for IPv6, minimum is /112", prefix.Bits())
	}

	var addrs []netip.Addr
	for a := prefix.Addr(); prefix.Contains(a); a = a.Next() {
		addrs = append(addrs, a)
	}
	// drop IPv4 network and broadcast addresses
	if prefix.Addr().Is4() && prefix.Bits() < 31 && len(addrs) > 2 {
		addrs = addrs[1 : len(addrs)-1]
	}
	return addrs, nil
}

// expandRange handles the 10.0.0.10-20 form kept from classic LAN sweeps.
func expandRange(spec string) ([]netip.Addr, error) {
	base, rng, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("target %q: not a range", spec)
	}
	first, err := netip.ParseAddr(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", spec, err)
	}
	if !first.Is4() {
		return nil, fmt.Errorf("target %q: ranges are IPv4 only", spec)
	}
	last, err := strconv.Atoi(strings.TrimSpace(rng))
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", spec, err)
	}
	octets := first.As4()
	if last < int(octets[3]) || last > 255 {
		return nil, fmt.Errorf("target %q: end octet %d out of range", spec, last)
	}

	var addrs []netip.Addr
	for o := int(octets[3]); o <= last; o++ {
		octets[3] = byte(o)
		addrs = append(addrs, netip.AddrFrom4(octets))
	}
	return addrs, nil
}

// ParsePorts parses the port set grammar: "common" (or empty) for the
// builtin list, "all" for 1-65535, otherwise a comma separated list of
// ports and ranges like "22,80,8000-8100". The result is deduplicated and
// sorted, so a host ends up with at most one result per port.
func ParsePorts(spec string) ([]uint16, error) {
	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "common", "default":
		return slices.Clone(commonPorts), nil
	case "all":
		all := make([]uint16, 0, 65535)
		for p := 1; p <= 65535; p++ {
			all = append(all, uint16(p))
		}
		return all, nil
	}

	seen := make(map[uint16]struct{})
	var ports []uint16
	for part := range strings.SplitSeq(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if s, e, ok := strings.Cut(part, "-"); ok {
			lo, hi = strings.TrimSpace(s), strings.TrimSpace(e)
		}
		start, err := parsePort(lo)
		if err != nil {
			return nil, fmt.Errorf("ports %q: %w", part, err)
		}
		end, err := parsePort(hi)
		if err != nil {
			return nil, fmt.Errorf("ports %q: %w", part, err)
		}
		if start > end {
			return nil, fmt.Errorf("ports %q: start after end", part)
		}
		for p := int(start); p <= int(end); p++ {
			if _, ok := seen[uint16(p)]; !ok {
				seen[uint16(p)] = struct{}{}
				ports = append(ports, uint16(p))
			}
		}
	}
	slices.Sort(ports)
	return ports, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of 1-65535", n)
	}
	return uint16(n), nil
}
