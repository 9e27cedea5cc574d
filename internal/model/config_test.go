package model_test

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/lanaudit/lanaudit/internal/model"

	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
		then     []uint16
		wantErr  bool
	}{
		{
			scenario: "list with range",
			given:    "22,80,8000-8002",
			then:     []uint16{22, 80, 8000, 8001, 8002},
		},
		{
			scenario: "duplicates collapse",
			given:    "22,22,21-23",
			then:     []uint16{21, 22, 23},
		},
		{
			scenario: "spaces tolerated",
			given:    " 443 , 80 ",
			then:     []uint16{80, 443},
		},
		{scenario: "port zero", given: "0", wantErr: true},
		{scenario: "port too big", given: "65536", wantErr: true},
		{scenario: "reversed range", given: "100-10", wantErr: true},
		{scenario: "garbage", given: "ssh", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			ports, err := model.ParsePorts(tc.given)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, ports)
		})
	}
}

func TestParsePortsKeywords(t *testing.T) {
	t.Parallel()

	common, err := model.ParsePorts("common")
	require.NoError(t, err)
	require.NotEmpty(t, common)
	require.Contains(t, common, uint16(22))
	require.Contains(t, common, uint16(443))

	def, err := model.ParsePorts("")
	require.NoError(t, err)
	require.Equal(t, common, def)

	all, err := model.ParsePorts("all")
	require.NoError(t, err)
	require.Len(t, all, 65535)
}

func TestExpandTargets(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    []string
		then     []netip.Addr
		wantErr  bool
	}{
		{
			scenario: "single addresses sorted and deduplicated",
			given:    []string{"10.0.0.9", "10.0.0.5", "10.0.0.9"},
			then: []netip.Addr{
				netip.MustParseAddr("10.0.0.5"),
				netip.MustParseAddr("10.0.0.9"),
			},
		},
		{
			scenario: "last octet range",
			given:    []string{"192.168.1.10-12"},
			then: []netip.Addr{
				netip.MustParseAddr("192.168.1.10"),
				netip.MustParseAddr("192.168.1.11"),
				netip.MustParseAddr("192.168.1.12"),
			},
		},
		{
			scenario: "cidr skips network and broadcast",
			given:    []string{"10.0.0.0/30"},
			then: []netip.Addr{
				netip.MustParseAddr("10.0.0.1"),
				netip.MustParseAddr("10.0.0.2"),
			},
		},
		{scenario: "too wide prefix", given: []string{"10.0.0.0/8"}, wantErr: true},
		{scenario: "range end before start", given: []string{"10.0.0.20-10"}, wantErr: true},
		{scenario: "bogus address", given: []string{"not-an-ip"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			cfg := model.Config{Targets: tc.given}
			addrs, err := cfg.ExpandTargets()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, addrs)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		const yml = `
version: 0
targets:
    - 10.0.0.1-20
ports: "22,80"
timeouts:
    probe: 500ms
    connect: 1s
max_in_flight: 32
match:
    min_tokens: 2
`
		cfg, err := model.LoadConfig(strings.NewReader(yml))
		require.NoError(t, err)
		require.Equal(t, 500*time.Millisecond, cfg.Timeouts.Probe.Std())
		require.Equal(t, time.Second, cfg.Timeouts.Connect.Std())
		require.Equal(t, 32, cfg.MaxInFlight)
		require.Equal(t, 2, cfg.Match.MinTokens)
		// defaults survive a partial file
		require.NotZero(t, cfg.Timeouts.Banner.Std())
		require.NotEmpty(t, cfg.NVD.FeedURL)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		t.Parallel()
		_, err := model.LoadConfig(strings.NewReader("version: 0\nbogus: true\n"))
		require.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Parallel()
		_, err := model.LoadConfig(strings.NewReader("version: 0\ntimeouts:\n    probe: fast\n"))
		require.Error(t, err)
	})

	t.Run("wrong version", func(t *testing.T) {
		t.Parallel()
		_, err := model.LoadConfig(strings.NewReader("version: 7\n"))
		require.Error(t, err)
	})

	t.Run("invalid ttl window", func(t *testing.T) {
		t.Parallel()
		const yml = `
version: 0
ttl_windows:
    - os: linux
      lo: 70
      hi: 60
`
		_, err := model.LoadConfig(strings.NewReader(yml))
		require.Error(t, err)
	})
}

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, model.DefaultConfig().Validate())
}
