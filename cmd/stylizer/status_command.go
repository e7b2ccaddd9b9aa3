package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"stylizer/internal/api"
	"stylizer/internal/config"
	"stylizer/internal/preflight"
	"stylizer/internal/staging"
)

const statusTimeout = 5 * time.Second

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and staging status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var status *api.DaemonStatus
			if client, dialErr := ctx.dialClient(); dialErr == nil {
				reqCtx, cancel := withTimeout(cmd.Context(), statusTimeout)
				snapshot, err := client.Status(reqCtx)
				cancel()
				if err != nil {
					return err
				}
				status = &snapshot
			}
			if status == nil {
				status = offlineStatus(cfg)
			}

			if jsonOutput {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status, colorEnabled(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// offlineStatus builds the snapshot the daemon would report, minus runtime state.
func offlineStatus(cfg *config.Config) *api.DaemonStatus {
	status := &api.DaemonStatus{
		UploadDir:    cfg.Paths.UploadDir,
		JobDBPath:    cfg.JobDBPath(),
		LockFilePath: cfg.LockPath(),
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(cfg)),
		Checks:       api.FromChecks(preflight.RunAll(cfg)),
	}
	if dirs, err := staging.ListDirectories(cfg.Paths.UploadDir); err == nil {
		status.UploadDays = len(dirs)
		for _, dir := range dirs {
			status.UploadBytes += dir.Size
		}
	}
	return status
}

func renderStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	daemon := &sheet{title: "Daemon"}
	if status.Running {
		daemon.addToned("Daemon", toneGood, fmt.Sprintf("Running (pid %d)", status.PID))
	} else {
		daemon.addToned("Daemon", toneBusy, "Not running")
	}
	daemon.add("Running jobs", fmt.Sprintf("%d", status.RunningJobs))
	keys := make([]string, 0, len(status.JobCounts))
	for k := range status.JobCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		daemon.addToned(titleCaser.String(k), statusTone(k), fmt.Sprintf("%d", status.JobCounts[k]))
	}
	if status.LatestJob != nil {
		daemon.addToned("Latest job", statusTone(status.LatestJob.Status), jobSummary(*status.LatestJob))
	}

	storage := &sheet{title: "Storage"}
	storage.add("Upload dir", status.UploadDir)
	storage.add("Staged", fmt.Sprintf("%s across %d day(s)", formatBytes(status.UploadBytes), status.UploadDays))
	if status.JobDBPath != "" {
		storage.add("Job database", status.JobDBPath)
	}
	for _, check := range status.Checks {
		t := toneGood
		if !check.Passed {
			t = toneBad
		}
		storage.addToned(check.Name, t, check.Detail)
	}

	deps := &sheet{title: "Dependencies"}
	for _, dep := range status.Dependencies {
		detail := dep.Detail
		if dep.Available {
			detail = dep.Command
		}
		deps.addToned(dep.Name, dependencyTone(dep), detail)
	}

	fmt.Fprint(out, daemon.render(colorize))
	fmt.Fprintln(out)
	fmt.Fprint(out, storage.render(colorize))
	fmt.Fprintln(out)
	fmt.Fprint(out, deps.render(colorize))
}
