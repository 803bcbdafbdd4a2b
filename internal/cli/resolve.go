package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) resolveCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve <share text...>",
		Short: "Print the watermark-free URL for a share text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			video, err := a.resolver().ResolveShareText(cmd.Context(), shareText(args))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(video)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Video ID: %s\n", video.VideoID)
			fmt.Fprintf(out, "Title:    %s\n", video.Title)
			fmt.Fprintf(out, "URL:      %s\n", video.URL)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output the result as JSON")

	return cmd
}
