package cli

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"fundwatch/internal/alerts"
	"fundwatch/internal/models"
	"fundwatch/internal/notify"
	"fundwatch/pkg/utils"
)

var timeNow = time.Now

func newCheckCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one alert evaluation pass now",
		Long: `Run a single scheduler tick against every enabled rule and print the
notifications it emits. Outside the trading window the tick is skipped unless
--force is given. Emitted messages are stored, and pushed through the Redis
relay when one is configured.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			output := NewOutput(cmd)

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			relay, closeRelay, err := app.newRelay(cmd)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeRelay()) }()

			pushers := notify.MultiPusher{notify.NewTerminalPusher(cmd.OutOrStdout())}
			if relay != nil {
				pushers = append(pushers, relay)
			}
			if output.IsJSON() {
				pushers = pushers[1:]
			}

			cfg := app.Config
			reconciler, _, _ := app.newReconciler()
			scheduler := alerts.NewScheduler(alerts.SchedulerConfig{
				FetchPause: cfg.Scheduler.FetchPause,
				Window:     cfg.TradingWindow(),
				Workers:    cfg.Scheduler.Workers,
			}, db, reconciler, notify.NewEmitter(db, pushers, app.Logger),
				alerts.NewCooldown(db, cfg.Scheduler.Cooldown), app.Logger)

			report := scheduler.RunOnce(cmd.Context(), force)
			if output.IsJSON() {
				return output.JSON(report)
			}

			if report.Skipped == alerts.SkipOutsideWindow {
				window, now := cfg.TradingWindow(), timeNow()
				output.Warning("Outside the trading window (%s), next open %s. Use --force to check anyway.",
					output.MarketStatus(string(window.Status(now))), FormatTime(window.NextOpen(now)))
				return nil
			}
			output.Info("%s", report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "run even outside the trading window")
	return cmd
}

func newQuoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <code>...",
		Short: "Show the reconciled snapshot for fund codes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			reconciler, _, _ := app.newReconciler()

			snapshots := make([]models.InstrumentSnapshot, 0, len(args))
			for _, code := range args {
				snapshots = append(snapshots, reconciler.Snapshot(cmd.Context(), code))
			}

			if output.IsJSON() {
				return output.JSON(snapshots)
			}

			table := NewTable(output, "CODE", "NAME", "ESTIMATE", "CHANGE", "NAV", "NAV DATE", "AS OF")
			for _, s := range snapshots {
				if s.Empty() {
					table.AddRow(s.Code, output.DimText("no data"), "-", "-", "-", "-", "-")
					continue
				}
				table.AddRow(
					s.Code,
					TruncateString(s.Name, 24),
					utils.FormatOptional(s.EstimatedValue, utils.FormatNav),
					output.Change(s.EstimatedChangePercent),
					utils.FormatOptional(s.ConfirmedValue, utils.FormatNav),
					orDash(s.ConfirmedValueDate),
					orDash(s.EstimateTimestamp),
				)
			}
			table.Render()
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
