package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lanaudit/lanaudit/internal/audit"
	"github.com/lanaudit/lanaudit/internal/log"
	"github.com/lanaudit/lanaudit/internal/match"
	"github.com/lanaudit/lanaudit/internal/model"
	"github.com/lanaudit/lanaudit/internal/nvd"
	"github.com/lanaudit/lanaudit/internal/portscan"
	"github.com/lanaudit/lanaudit/internal/probe"
	"github.com/lanaudit/lanaudit/internal/report"
	"github.com/lanaudit/lanaudit/internal/sched"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func doScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.Group("lanaudit",
		slog.String("cmd", "scan"),
		slog.String("run", runID),
	))

	manager, closeStore, err := newManager()
	if err != nil {
		return err
	}
	defer closeStore()

	idx, err := manager.EnsureFresh(ctx, config.NVD.MaxAge.Std())
	if err != nil {
		// degraded but usable: stale, or empty index without local cache
		slog.WarnContext(ctx, "vulnerability index degraded", "err", err)
	}
	slog.InfoContext(ctx, "vulnerability index ready", "entries", idx.Len(), "stamp", idx.Stamp())

	records, err := runAudit(ctx, idx)
	if err != nil {
		return err
	}

	return report.New(runID, records).AsJSON(os.Stdout)
}

func doUpdate(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("lanaudit",
		slog.String("cmd", "update"),
	))

	manager, closeStore, err := newManager()
	if err != nil {
		return err
	}
	defer closeStore()

	idx, err := manager.Refresh(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "vulnerability cache updated", "entries", idx.Len(), "stamp", idx.Stamp())
	return nil
}

func doWatch(cmd *cobra.Command, args []string) error {
	schedule, err := sched.Parse(flagSchedule)
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", flagSchedule, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("lanaudit",
		slog.String("cmd", "watch"),
	))

	manager, closeStore, err := newManager()
	if err != nil {
		return err
	}
	defer closeStore()

	slog.InfoContext(ctx, "watching", "schedule", flagSchedule)
	err = sched.Run(ctx, schedule, func(ctx context.Context) error {
		runID := uuid.NewString()
		ctx = log.ContextAttrs(ctx, slog.String("run", runID))

		idx, err := manager.EnsureFresh(ctx, config.NVD.MaxAge.Std())
		if err != nil {
			slog.WarnContext(ctx, "vulnerability index degraded", "err", err)
		}
		records, err := runAudit(ctx, idx)
		if err != nil {
			return err
		}
		return report.New(runID, records).AsJSON(os.Stdout)
	})
	if errors.Is(err, context.Canceled) {
		// interrupted by the user, a clean exit
		return nil
	}
	return err
}

func newManager() (*nvd.Manager, func(), error) {
	cacheDir := config.NVD.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(userConfigPath, "nvd")
	}
	store, err := nvd.OpenStore(cacheDir)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		_ = store.Close()
	}
	return nvd.NewManager(config.NVD.FeedURL, store, nil), closeStore, nil
}

func runAudit(ctx context.Context, idx *match.Index) ([]model.HostRecord, error) {
	targets, err := config.ExpandTargets()
	if err != nil {
		return nil, err
	}
	ports, err := model.ParsePorts(config.Ports)
	if err != nil {
		return nil, err
	}

	matcher := match.NewKeywordMatcher(idx, config.Match.MinTokens)
	scanner := portscan.New(config.Timeouts.Connect.Std(), config.Timeouts.Banner.Std(), matcher)
	pinger := probe.Pinger{Timeout: config.Timeouts.Probe.Std()}

	auditor, err := audit.New(audit.Options{
		Targets:     targets,
		Ports:       ports,
		Prober:      pinger,
		Scanner:     scanner,
		Classifier:  probe.NewClassifier(classifierWindows()...),
		Hostname:    probe.Hostname,
		MaxInFlight: config.MaxInFlight,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up audit: %w", err)
	}
	return auditor.Run(ctx)
}

func classifierWindows() []probe.Window {
	windows := make([]probe.Window, 0, len(config.TTLWindows))
	for _, w := range config.TTLWindows {
		windows = append(windows, probe.Window{OS: w.OS, Lo: w.Lo, Hi: w.Hi})
	}
	return windows
}
