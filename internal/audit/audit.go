// Package audit coordinates the whole scan: it probes every target,
// port-scans the live ones and aggregates the per-host records, all under
// one global bound on in-flight network operations.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/lanaudit/lanaudit/internal/log"
	"github.com/lanaudit/lanaudit/internal/model"
	"github.com/lanaudit/lanaudit/internal/parallel"
	"github.com/lanaudit/lanaudit/internal/probe"

	"golang.org/x/sync/semaphore"
)

// Prober reports liveness, latency and the reply TTL of one host.
type Prober interface {
	Probe(ctx context.Context, addr netip.Addr) (probe.Reply, error)
}

// PortScanner produces the result of one port of one host.
type PortScanner interface {
	ScanPort(ctx context.Context, addr netip.Addr, port uint16) model.PortResult
}

// HostnameFunc reverse-resolves an address, "" when unknown.
type HostnameFunc func(ctx context.Context, addr netip.Addr) string

// Options wires an Auditor. Prober and Scanner are interfaces so tests can
// run the engine against fakes without touching the network.
type Options struct {
	Targets    []netip.Addr
	Ports      []uint16
	Prober     Prober
	Scanner    PortScanner
	Classifier probe.Classifier
	Hostname   HostnameFunc // nil disables reverse lookups
	// MaxInFlight caps simultaneously active network operations (probes,
	// connects, banner reads) across all hosts and ports.
	MaxInFlight int
}

// Auditor executes one scan run. All state is owned by the run, two
// Auditors never share anything mutable.
type Auditor struct {
	opts Options
	gate *semaphore.Weighted
}

// New validates the options. An empty target list is the only fatal
// configuration error, everything later is recorded as per-host data.
func New(opts Options) (*Auditor, error) {
	if len(opts.Targets) == 0 {
		return nil, model.ErrNoTargets
	}
	if opts.Prober == nil || opts.Scanner == nil {
		return nil, errors.New("audit: prober and scanner are required")
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	return &Auditor{
		opts: opts,
		gate: semaphore.NewWeighted(int64(opts.MaxInFlight)),
	}, nil
}

// Run probes and scans every target and returns the aggregated records
// sorted by IP, each record's ports sorted by number. Per-host failures
// are contained in their record. When ctx ends early the records
// completed so far are returned together with the context error.
func (a *Auditor) Run(ctx context.Context) ([]model.HostRecord, error) {
	started := time.Now()
	slog.InfoContext(ctx, "audit started",
		"targets", len(a.opts.Targets), "ports", len(a.opts.Ports), "maxInFlight", a.opts.MaxInFlight)

	records := parallel.Collect(ctx, a.opts.MaxInFlight, a.opts.Targets, a.auditHost)

	model.SortRecords(records)
	slog.InfoContext(ctx, "audit finished",
		"hosts", len(records), "elapsed", time.Since(started))
	return records, ctx.Err()
}

// auditHost owns the record of one IP: nobody else writes it, and after
// the return it is immutable.
func (a *Auditor) auditHost(ctx context.Context, addr netip.Addr) (model.HostRecord, error) {
	ctx = log.ContextAttrs(ctx, slog.String("host", addr.String()))
	record := model.HostRecord{
		IP:       addr,
		Liveness: model.LivenessUnknown,
		OS:       model.OSUnknown,
	}

	reply, err := a.probe(ctx, addr)
	if err != nil {
		// down hosts get no port scan dispatched
		record.Liveness = model.LivenessDown
		slog.DebugContext(ctx, "host down", "reason", err)
		return record, nil
	}

	record.Liveness = model.LivenessUp
	record.Latency = reply.Latency
	record.OS = a.opts.Classifier.Classify(reply.TTL)
	if a.opts.Hostname != nil {
		if err := a.gate.Acquire(ctx, 1); err == nil {
			record.Hostname = a.opts.Hostname(ctx, addr)
			a.gate.Release(1)
		}
	}
	slog.DebugContext(ctx, "host up",
		"ttl", reply.TTL, "os", record.OS, "latency", reply.Latency)

	record.Ports = parallel.Collect(ctx, a.opts.MaxInFlight, a.opts.Ports,
		func(ctx context.Context, port uint16) (model.PortResult, error) {
			return a.scanPort(ctx, addr, port)
		})
	return record, nil
}

// probe and scanPort hold an admission slot for the duration of their
// network operation; the gate is what enforces the global socket bound.
func (a *Auditor) probe(ctx context.Context, addr netip.Addr) (probe.Reply, error) {
	if err := a.gate.Acquire(ctx, 1); err != nil {
		return probe.Reply{}, model.ErrProbeTimeout
	}
	defer a.gate.Release(1)
	return a.opts.Prober.Probe(ctx, addr)
}

func (a *Auditor) scanPort(ctx context.Context, addr netip.Addr, port uint16) (model.PortResult, error) {
	if err := a.gate.Acquire(ctx, 1); err != nil {
		// run deadline hit while waiting for a slot
		return model.PortResult{Port: port, State: model.PortFiltered}, nil
	}
	defer a.gate.Release(1)
	return a.opts.Scanner.ScanPort(ctx, addr, port), nil
}
