package model

import (
	"cmp"
	"net/netip"
	"slices"
	"time"
)

// Liveness is the result of the host probe.
type Liveness string

const (
	LivenessUnknown Liveness = "unknown"
	LivenessUp      Liveness = "up"
	LivenessDown    Liveness = "down"
)

// OSGuess is the operating system class estimated from the probe reply TTL.
type OSGuess string

const (
	OSUnknown OSGuess = "unknown"
	OSLinux   OSGuess = "linux"
	OSWindows OSGuess = "windows"
	OSCisco   OSGuess = "cisco"
)

// PortState classifies the outcome of a TCP connect attempt.
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered"
)

// PortResult is the outcome of scanning a single port. It is written once by
// the task owning that port and never touched afterwards.
type PortResult struct {
	Port   uint16    `json:"port"`
	State  PortState `json:"state"`
	Banner string    `json:"banner,omitempty"`
	CVEs   []string  `json:"cves,omitempty"`
}

// HostRecord aggregates everything learned about a single IP. The record is
// owned by the task probing that IP and is immutable once the scan of the
// host completes.
type HostRecord struct {
	IP       netip.Addr   `json:"ip"`
	Liveness Liveness     `json:"liveness"`
	Hostname string       `json:"hostname,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
	OS       OSGuess      `json:"os"`
	Ports    []PortResult `json:"ports,omitempty"`
}

// SortRecords orders records by IP and each record's ports by port number,
// giving the aggregated result a deterministic final ordering.
func SortRecords(records []HostRecord) {
	slices.SortFunc(records, func(a, b HostRecord) int {
		return a.IP.Compare(b.IP)
	})
	for i := range records {
		slices.SortFunc(records[i].Ports, func(a, b PortResult) int {
			return cmp.Compare(a.Port, b.Port)
		})
	}
}

// OpenPorts returns the numbers of ports in open state, in record order.
func (h HostRecord) OpenPorts() []uint16 {
	var open []uint16
	for _, p := range h.Ports {
		if p.State == PortOpen {
			open = append(open, p.Port)
		}
	}
	return open
}
