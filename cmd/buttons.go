package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/buttonwatcher/wbw/internal/browser"
	"github.com/buttonwatcher/wbw/internal/config"
	"github.com/buttonwatcher/wbw/internal/observability"
)

// newButtonsCmd creates the `buttons` command, which enumerates the
// candidate buttons on a page so the user can pick selectors for watch.
func newButtonsCmd() *cobra.Command {
	buttonsCmd := &cobra.Command{
		Use:   "buttons <url>",
		Short: "Lists the buttons found on a page with their selectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config: %w", err)
			}
			url := normalizeURL(args[0])

			manager, err := browser.NewManager(ctx, logger, cfg.Browser)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer manager.Close()

			if err := manager.Navigate(ctx, url); err != nil {
				return fmt.Errorf("failed to open %s: %w", url, err)
			}

			infos, err := manager.ListButtons(ctx)
			if err != nil {
				return fmt.Errorf("failed to enumerate buttons: %w", err)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No buttons found.")
				return nil
			}

			printButtonList(cmd.OutOrStdout(), infos)
			return nil
		},
	}
	return buttonsCmd
}

func init() {
	rootCmd.AddCommand(newButtonsCmd())
}
