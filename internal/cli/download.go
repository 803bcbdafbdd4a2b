package cli

import (
	"fmt"

	"github.com/rizkirmdhn/dyproxy/internal/downloader/service"
	"github.com/rizkirmdhn/dyproxy/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) downloadCommand() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "download <share text...>",
		Short: "Resolve a share text and download the video",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			video, err := a.resolver().ResolveShareText(cmd.Context(), shareText(args))
			if err != nil {
				return err
			}

			dlCfg := a.cfg.Downloader
			if outputDir != "" {
				dlCfg.DownloadDir = outputDir
			}

			dl := service.NewDownloaderService(&dlCfg, &a.cfg.Douyin, &a.cfg.RabbitMq, a.log, nil,
				service.WithHTTPClient(a.client))

			fmt.Fprintf(cmd.ErrOrStderr(), "Downloading %q into %s\n", video.Title, dl.DownloadDir())
			path, err := dl.Fetch(cmd.Context(), models.DownloadTask{
				VideoID: video.VideoID,
				Title:   video.Title,
				URL:     video.URL,
			})
			if err != nil {
				return fmt.Errorf("downloading %s: %w", video.VideoID, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to save the video in (default: downloader.downloadDir)")

	return cmd
}
