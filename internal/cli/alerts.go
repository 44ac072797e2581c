package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"fundwatch/internal/models"
)

func newAlertsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage alert rules",
	}
	cmd.AddCommand(newAlertsSetCmd(app))
	cmd.AddCommand(newAlertsListCmd(app))
	cmd.AddCommand(newAlertsToggleCmd(app))
	return cmd
}

func newAlertsSetCmd(app *App) *cobra.Command {
	var (
		userID   string
		name     string
		rise     float64
		fall     float64
		high     float64
		low      float64
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "set <code>",
		Short: "Create or replace a user's rule for a fund",
		Long: `Create or replace the rule for (user, fund). Replacing a rule clears its
cooldown. At least one threshold is required; 0 leaves a threshold unset.`,
		Example: `  fundwatch alerts set 161725 --user 8f14e45f --name "CMF Liquor Index" --rise 3 --fall 2
  fundwatch alerts set 000001 --user 8f14e45f --high 1.25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			output := NewOutput(cmd)

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			rule := &models.AlertRule{
				OwnerID:        userID,
				InstrumentCode: args[0],
				InstrumentName: name,
				RiseThreshold:  optionalFlag(cmd, "rise", rise),
				FallThreshold:  optionalFlag(cmd, "fall", fall),
				TargetHigh:     optionalFlag(cmd, "high", high),
				TargetLow:      optionalFlag(cmd, "low", low),
				Enabled:        !disabled,
			}
			if err := db.UpsertRule(cmd.Context(), rule); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rule)
			}
			output.Success("✓ Rule %s saved for %s: %s", rule.ID, rule.DisplayName(), FormatRuleThresholds(*rule))
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner user id (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "fund display name")
	cmd.Flags().Float64Var(&rise, "rise", 0, "alert when the estimate rises by this percent")
	cmd.Flags().Float64Var(&fall, "fall", 0, "alert when the estimate falls by this percent")
	cmd.Flags().Float64Var(&high, "high", 0, "alert when the estimated NAV reaches this value")
	cmd.Flags().Float64Var(&low, "low", 0, "alert when the estimated NAV drops to this value")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the rule disabled")
	cmd.MarkFlagRequired("user")
	return cmd
}

// optionalFlag returns nil for flags the user did not pass.
func optionalFlag(cmd *cobra.Command, name string, v float64) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return models.Float(v)
}

func newAlertsListCmd(app *App) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules, for one user or every enabled rule",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			output := NewOutput(cmd)

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			var rules []models.AlertRule
			if userID != "" {
				rules, err = db.ListRules(cmd.Context(), userID)
			} else {
				rules, err = db.ListEnabledRules(cmd.Context())
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rules)
			}
			if len(rules) == 0 {
				output.Dim("No rules")
				return nil
			}

			table := NewTable(output, "ID", "USER", "FUND", "THRESHOLDS", "ENABLED", "LAST TRIGGERED")
			for _, r := range rules {
				enabled := output.Green("yes")
				if !r.Enabled {
					enabled = output.DimText("no")
				}
				table.AddRow(r.ID, r.OwnerID, TruncateString(r.DisplayName(), 24),
					FormatRuleThresholds(r), enabled, FormatOptionalTime(r.LastTriggered))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner user id")
	return cmd
}

func newAlertsToggleCmd(app *App) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "toggle <rule-id>",
		Short: "Enable or disable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			output := NewOutput(cmd)

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			rule, err := db.ToggleRule(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rule)
			}
			state := "disabled"
			if rule.Enabled {
				state = "enabled"
			}
			output.Success("✓ Rule for %s %s", rule.DisplayName(), state)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}
