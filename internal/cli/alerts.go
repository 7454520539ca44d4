package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stockwatcher/internal/storage"
)

var (
	alertSymbol    string
	alertKind      string
	alertLow       string
	alertHigh      string
	alertPercent   string
	alertReference string
	historyLimit   int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a one-shot alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		rule := storage.AlertRule{
			Symbol: alertSymbol,
			Kind:   strings.ToLower(strings.TrimSpace(alertKind)),
		}
		var err error
		if rule.Low, err = optionalDecimal("--low", alertLow); err != nil {
			return err
		}
		if rule.High, err = optionalDecimal("--high", alertHigh); err != nil {
			return err
		}
		if rule.Percent, err = optionalDecimal("--percent", alertPercent); err != nil {
			return err
		}
		if rule.ReferencePrice, err = optionalDecimal("--reference", alertReference); err != nil {
			return err
		}

		created, err := getApp().CreateAlert(cmd.Context(), rule)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "alert #%d created for %s (%s)\n", created.ID, created.Symbol, created.Kind)
		return nil
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		alerts, err := getApp().ListAlerts(cmd.Context())
		if err != nil {
			return err
		}
		return writeAlertTable(cmd.OutOrStdout(), alerts)
	},
}

var alertsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently triggered alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		triggers, err := getApp().AlertHistory(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return writeTriggerTable(cmd.OutOrStdout(), triggers)
	},
}

var alertsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate active alerts once against stored prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().CheckAlerts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "evaluated: %d\nskipped: %d\ntriggered: %d\n", result.Evaluated, result.Skipped, len(result.Triggers))
		return writeTriggerTable(cmd.OutOrStdout(), result.Triggers)
	},
}

func optionalDecimal(flag, raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return &d, nil
}

func init() {
	alertsCreateCmd.Flags().StringVar(&alertSymbol, "symbol", "", "Ticker symbol")
	alertsCreateCmd.Flags().StringVar(&alertKind, "kind", storage.KindHighLow, "price_change, percent_change or high_low")
	alertsCreateCmd.Flags().StringVar(&alertLow, "low", "", "Lower bound for high_low")
	alertsCreateCmd.Flags().StringVar(&alertHigh, "high", "", "Upper bound for high_low")
	alertsCreateCmd.Flags().StringVar(&alertPercent, "percent", "", "Percent move for percent_change")
	alertsCreateCmd.Flags().StringVar(&alertReference, "reference", "", "Reference price for percent_change")
	_ = alertsCreateCmd.MarkFlagRequired("symbol")

	alertsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of triggers to display")

	alertsCmd.AddCommand(alertsCreateCmd, alertsListCmd, alertsHistoryCmd, alertsCheckCmd)
}
