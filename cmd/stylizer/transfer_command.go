package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stylizer/internal/api"
	"stylizer/internal/apiclient"
	"stylizer/internal/config"
	"stylizer/internal/fileutil"
)

func newTransferCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var legacy bool
	var outputPath string
	var interval time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "transfer <subject> <style>",
		Short: "Start a style transfer on two uploaded files",
		Long: "Start a style transfer. Both paths must name files already stored by the daemon\n" +
			"(see `stylizer upload`). Videos are detected by extension; everything else runs as an image.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			subject, style := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])

			if legacy {
				if outputPath != "" {
					return errors.New("--output requires the jobs API; drop --legacy")
				}
				ack, err := client.StartTransfer(cmd.Context(), subject, style)
				if err != nil {
					return daemonError(err, client.BaseURL())
				}
				fmt.Fprintln(out, ack.Message)
				if !wait {
					return nil
				}
				return waitLegacy(cmd, client, interval)
			}

			job, err := client.StartJob(cmd.Context(), subject, style)
			if err != nil {
				return daemonError(err, client.BaseURL())
			}
			if !wait && outputPath == "" {
				if jsonOutput {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(out, "Started %s job %s\n", job.Kind, job.ID)
				return nil
			}

			job, err = client.Wait(cmd.Context(), job.ID, interval)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := writeJSON(cmd, job); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, jobSummary(job))
			}
			if job.Status != "completed" {
				return fmt.Errorf("transfer %s failed: %s", job.ID, valueOrDash(job.ErrorMessage))
			}
			if outputPath != "" {
				return saveResult(cmd, client, job.ID, outputPath, !jsonOutput)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "Use the single-job /transfer endpoint")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Download the result to this path (implies --wait)")
	cmd.Flags().DurationVar(&interval, "poll", apiclient.DefaultPollInterval, "Polling interval while waiting")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func waitLegacy(cmd *cobra.Command, client *apiclient.Client, interval time.Duration) error {
	if interval <= 0 {
		interval = apiclient.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, errText, err := client.TransferStatus(cmd.Context())
		if err != nil {
			return err
		}
		if errText != nil {
			return fmt.Errorf("transfer failed: %s", *errText)
		}
		if status.Status != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Finished (%s)\n", status.Status)
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func saveResult(cmd *cobra.Command, client *apiclient.Client, id, target string, announce bool) error {
	path, err := config.ExpandPath(target)
	if err != nil {
		return err
	}
	n, err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) (int64, error) {
		return client.DownloadResult(cmd.Context(), id, w)
	})
	if err != nil {
		return fmt.Errorf("download result: %w", daemonError(err, client.BaseURL()))
	}
	if announce {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", path, formatBytes(n))
	}
	return nil
}

func jobSummary(job api.Job) string {
	switch job.Status {
	case "completed":
		return fmt.Sprintf("Job %s completed in %s", job.ID, formatSeconds(job.DurationSeconds))
	case "failed":
		return fmt.Sprintf("Job %s failed after %s: %s", job.ID, formatSeconds(job.DurationSeconds), valueOrDash(job.ErrorMessage))
	default:
		return fmt.Sprintf("Job %s is %s", job.ID, job.Status)
	}
}
