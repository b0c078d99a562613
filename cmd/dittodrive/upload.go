package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/orchestrator"
	"github.com/spf13/cobra"
)

func NewUploadCommand() *cobra.Command {
	var (
		user        string
		folderID    string
		preferDrive bool
		mimeType    string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local file on behalf of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", args[0])
			}

			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(info.Name()))
			}
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := config.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Error("Failed to release resources: %v", err)
				}
			}()

			bar := pb.New64(info.Size())
			bar.Set(pb.Bytes, true)
			bar.SetWriter(cmd.ErrOrStderr())
			bar.SetTemplate(`{{string . "name"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
			bar.Set("name", info.Name())
			bar.Start()

			opts := orchestrator.UploadOptions{
				PreferDrive: preferDrive,
				Progress: func(p backend.Progress) {
					bar.SetCurrent(p.BytesTransferred)
				},
			}
			if folderID != "" {
				opts.FolderID = &folderID
			}

			record, err := app.Orchestrator.UploadFile(ctx, user, &backend.File{
				Name:     info.Name(),
				Size:     info.Size(),
				MimeType: mimeType,
				Content:  f,
			}, opts)
			bar.Finish()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner of the uploaded file (required)")
	cmd.Flags().StringVar(&folderID, "folder", "", "Destination folder ID (default: root)")
	cmd.Flags().BoolVar(&preferDrive, "prefer-drive", false, "Use the owner's personal drive when it is connected")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type (default: from the file extension)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
