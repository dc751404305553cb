package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buttonwatcher/wbw/api/schemas"
	"github.com/buttonwatcher/wbw/internal/browser"
	"github.com/buttonwatcher/wbw/internal/config"
	"github.com/buttonwatcher/wbw/internal/monitor"
	"github.com/buttonwatcher/wbw/internal/notify"
	"github.com/buttonwatcher/wbw/internal/observability"
)

// newWatchCmd creates and configures the `watch` command.
func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch [url]",
		Short: "Monitors buttons on a page and notifies when one changes",
		Long: `Watches the selected buttons on a single page at a fixed interval
and reports any change in a button's text or enabled state. Buttons are
chosen with repeatable --selector flags, taken from the config file, or
picked interactively with --mode interactive.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags the user actually set so they override config
			// file and env values. Binding an untouched flag would let
			// its zero default shadow the config defaults.
			bindings := map[string]string{
				"monitor.url":                "url",
				"monitor.interval":           "interval",
				"monitor.refresh_each_cycle": "refresh",
				"notify.enabled":             "notify",
				"notify.chat_id":             "chat-id",
				"browser.headless":           "headless",
			}
			for key, name := range bindings {
				if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
					if err := viper.BindPFlag(key, f); err != nil {
						return err
					}
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config: %w", err)
			}
			if len(args) > 0 {
				cfg.Monitor.URL = args[0]
			}
			if cfg.Monitor.URL == "" {
				return fmt.Errorf("no URL given: pass one as an argument, with --url, or in the config file")
			}
			cfg.Monitor.URL = normalizeURL(cfg.Monitor.URL)

			selectors, _ := cmd.Flags().GetStringArray("selector")
			mode, _ := cmd.Flags().GetString("mode")
			save, _ := cmd.Flags().GetBool("save")

			// Signal-aware context: SIGINT/SIGTERM stop the session
			// cleanly between element checks.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cfg, selectors, mode, save, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	watchCmd.Flags().String("url", "", "Page URL to monitor. (Overrides config)")
	watchCmd.Flags().StringArrayP("selector", "s", nil, "Button selector to watch, repeatable (e.g. '#buy-now', '@button:2').")
	watchCmd.Flags().String("mode", "headless", "Selection mode: 'headless' (selectors from flags/config) or 'interactive' (pick from a printed list).")
	watchCmd.Flags().DurationP("interval", "i", 0, "Polling interval. (Overrides config)")
	watchCmd.Flags().Bool("refresh", false, "Reload the page before each polling cycle.")
	watchCmd.Flags().Bool("notify", false, "Send Telegram notifications on change (requires WBW_TELEGRAM_BOT_TOKEN and --chat-id).")
	watchCmd.Flags().Int64("chat-id", 0, "Telegram chat id for notifications. (Overrides config)")
	watchCmd.Flags().Bool("headless", true, "Run the browser headless.")
	watchCmd.Flags().Bool("save", false, "Save the URL, interval and chosen buttons to the config file.")

	return watchCmd
}

// runWatch wires the browser, session and notifier together and blocks
// until the session ends or the context is cancelled.
func runWatch(
	ctx context.Context,
	cfg *config.Config,
	selectors []string,
	mode string,
	save bool,
	in io.Reader,
	out io.Writer,
	logger *zap.Logger,
) error {
	manager, err := browser.NewManager(ctx, logger, cfg.Browser)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer manager.Close()

	if err := manager.Navigate(ctx, cfg.Monitor.URL); err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Monitor.URL, err)
	}

	buttons, err := resolveButtons(ctx, manager, cfg, selectors, mode, in, out)
	if err != nil {
		return err
	}
	cfg.Monitor.Buttons = buttons

	if save {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigFile
		}
		if err := config.SaveMonitorSettings(viper.GetViper(), path, cfg.Monitor); err != nil {
			logger.Warn("Failed to save settings", zap.Error(err))
		} else {
			fmt.Fprintf(out, "Settings saved to %s\n", path)
		}
	}

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return err
	}

	sink := monitor.MultiSink{
		monitor.NewLoggerSink(logger),
		printSink(out),
	}

	session := monitor.NewSession(cfg.Monitor, manager, notifier, sink, logger)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitoring: %w", err)
	}

	fmt.Fprintf(out, "Watching %d button(s) on %s every %s. Press Ctrl-C to stop.\n",
		len(buttons), cfg.Monitor.URL, cfg.Monitor.Interval)

	// Block until the session ends on its own (fatal error) or the
	// signal context fires.
	done := make(chan struct{})
	go func() {
		session.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping session")
		session.Stop()
	case <-done:
	}

	if session.Status() == schemas.StatusErrored {
		return fmt.Errorf("monitoring ended with an unrecoverable error")
	}
	fmt.Fprintln(out, "Monitoring stopped.")
	return nil
}

// resolveButtons turns flags, config or an interactive pick into the
// final watch list.
func resolveButtons(
	ctx context.Context,
	manager *browser.Manager,
	cfg *config.Config,
	selectors []string,
	mode string,
	in io.Reader,
	out io.Writer,
) ([]config.WatchedButton, error) {
	if strings.EqualFold(mode, "interactive") {
		return pickButtonsInteractively(ctx, manager, in, out)
	}

	if len(selectors) > 0 {
		buttons := make([]config.WatchedButton, 0, len(selectors))
		for _, sel := range selectors {
			buttons = append(buttons, config.WatchedButton{Selector: sel})
		}
		return buttons, nil
	}

	if len(cfg.Monitor.Buttons) > 0 {
		return cfg.Monitor.Buttons, nil
	}

	return nil, fmt.Errorf("no buttons selected: pass --selector, use --mode interactive, or save a selection in the config file")
}

// pickButtonsInteractively lists the page's buttons and reads a
// comma-separated list of indices from the user.
func pickButtonsInteractively(ctx context.Context, manager *browser.Manager, in io.Reader, out io.Writer) ([]config.WatchedButton, error) {
	infos, err := manager.ListButtons(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate buttons: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no buttons found on the page")
	}

	printButtonList(out, infos)
	fmt.Fprint(out, "Buttons to watch (comma-separated indices): ")

	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("failed to read selection: %w", err)
	}

	return parseSelection(line, infos)
}

// parseSelection resolves user-entered indices against the enumerated
// buttons. Duplicates collapse; an out-of-range index is an error.
func parseSelection(line string, infos []schemas.ButtonInfo) ([]config.WatchedButton, error) {
	seen := make(map[int]bool)
	var buttons []config.WatchedButton

	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", part)
		}
		if idx < 0 || idx >= len(infos) {
			return nil, fmt.Errorf("index %d out of range (0-%d)", idx, len(infos)-1)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true

		info := infos[idx]
		label := info.Text
		if label == "" {
			label = info.Selector
		}
		buttons = append(buttons, config.WatchedButton{Selector: info.Selector, Label: label})
	}

	if len(buttons) == 0 {
		return nil, fmt.Errorf("no buttons selected")
	}
	return buttons, nil
}

func printButtonList(out io.Writer, infos []schemas.ButtonInfo) {
	fmt.Fprintf(out, "Found %d button(s):\n", len(infos))
	for _, info := range infos {
		state := "enabled"
		if !info.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "  [%d] %q (%s)  selector: %s\n", info.Index, info.Text, state, info.Selector)
	}
}

// buildNotifier returns nil when notifications are disabled; the
// session treats a nil notifier as log-only.
func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) (schemas.Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	telegram, err := notify.NewTelegramNotifier(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up Telegram notifications: %w", err)
	}
	return notify.NewRetryNotifier(telegram, cfg, logger), nil
}

// printSink mirrors session events to the terminal so a headless run
// is observable without reading logs.
func printSink(out io.Writer) monitor.CallbackSink {
	return monitor.CallbackSink{
		Change: func(event schemas.ChangeEvent) {
			fmt.Fprintf(out, "[%s] Button %q changed: %q -> %q\n",
				event.DetectedAt.Format("15:04:05"), event.Label,
				previousText(event), event.Current.Text)
		},
	}
}

func previousText(event schemas.ChangeEvent) string {
	if event.Previous == nil {
		return ""
	}
	return event.Previous.Text
}

func normalizeURL(url string) string {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "https://" + url
	}
	return url
}

func init() {
	rootCmd.AddCommand(newWatchCmd())
}
