package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stylizer/internal/config"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var field string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload media files to the daemon staging area",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(field) == "" {
				field = cfg.Upload.FieldName
			}
			files := make([]string, 0, len(args))
			for _, arg := range args {
				path, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				files = append(files, path)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			stored, err := client.Upload(cmd.Context(), field, files...)
			if err != nil {
				return daemonError(err, client.BaseURL())
			}

			if jsonOutput {
				return writeJSON(cmd, map[string][]string{"url": stored})
			}
			out := cmd.OutOrStdout()
			if len(stored) == 0 {
				fmt.Fprintln(out, "No files were accepted (only image and video content is stored)")
				return nil
			}
			for _, path := range stored {
				fmt.Fprintln(out, path)
			}
			if skipped := len(files) - len(stored); skipped > 0 {
				fmt.Fprintf(out, "%d file(s) skipped by the upload filter\n", skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Multipart field name (defaults to upload.field_name)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
