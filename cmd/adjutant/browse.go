package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/adjutant/internal/appconfig"
	"pkt.systems/adjutant/internal/browse"
	"pkt.systems/pslog"
)

// newBrowseCmd renders a page headlessly and prints its title and
// visible text. The agent shells out to this when a turn needs page
// content; the binary path is advertised to it via ADJUTANT_BROWSE_BIN.
func newBrowseCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "browse <url>",
		Short: "Fetch a page with a headless browser and print its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Browse.Enabled {
				return errors.New("browsing is disabled (set browse.enabled in the config)")
			}
			fetcher := browse.NewFetcher(browse.Config{
				Timeout: time.Duration(cfg.Browse.TimeoutSeconds) * time.Second,
				Logger:  pslog.Ctx(cmd.Context()),
			})
			result, err := fetcher.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.Title != "" {
				_, _ = fmt.Fprintf(out, "# %s\n\n", result.Title)
			}
			_, _ = fmt.Fprintln(out, result.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
