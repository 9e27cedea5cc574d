// Package report shapes finished host records into the flat rows the
// external table and CSV collaborators consume.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lanaudit/lanaudit/internal/model"
)

// Row is one host in the report. MAC and Vendor stay empty here, they are
// filled in by the external OUI lookup collaborator.
type Row struct {
	IP        string   `json:"ip"`
	Status    string   `json:"status"`
	Hostname  string   `json:"hostname,omitempty"`
	MAC       string   `json:"mac,omitempty"`
	Vendor    string   `json:"vendor,omitempty"`
	OS        string   `json:"os"`
	Ports     []uint16 `json:"ports,omitempty"`
	Banners   []string `json:"banners,omitempty"`
	CVEs      []string `json:"cves,omitempty"`
	LatencyMS float64  `json:"latency_ms"`
}

// Report is the run envelope written to stdout.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Rows        []Row     `json:"rows"`
}

// New builds the report from already sorted records, keeping their order.
func New(runID string, records []model.HostRecord) Report {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, fromRecord(rec))
	}
	return Report{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Rows:        rows,
	}
}

func fromRecord(rec model.HostRecord) Row {
	row := Row{
		IP:        rec.IP.String(),
		Status:    string(rec.Liveness),
		Hostname:  rec.Hostname,
		OS:        string(rec.OS),
		Ports:     rec.OpenPorts(),
		LatencyMS: -1,
	}
	if rec.Liveness == model.LivenessUp {
		row.LatencyMS = float64(rec.Latency.Microseconds()) / 1000
	}

	seen := make(map[string]struct{})
	for _, p := range rec.Ports {
		if p.State != model.PortOpen {
			continue
		}
		if p.Banner != "" {
			row.Banners = append(row.Banners, fmt.Sprintf("%d:%s", p.Port, p.Banner))
		}
		for _, id := range p.CVEs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			row.CVEs = append(row.CVEs, id)
		}
	}
	return row
}

// AsJSON writes the report as indented JSON.
func (r Report) AsJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}
