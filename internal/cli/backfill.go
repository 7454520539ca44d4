package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stockwatcher/internal/app"
)

const dateLayout = "2006-01-02"

var (
	backfillFrom    string
	backfillTo      string
	backfillDryRun  bool
	backfillStep    time.Duration
	backfillSymbols []string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Populate synthetic regular-session history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(dateLayout, backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(dateLayout, backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			From:    from,
			To:      to,
			Symbols: parseSymbols(backfillSymbols),
			Step:    backfillStep,
			DryRun:  backfillDryRun,
		}

		result, err := getApp().Backfill(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trading days: %d\nobservations: %d\n", result.Days, result.Observations)
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Generate without writing to storage")
	backfillCmd.Flags().DurationVar(&backfillStep, "step", time.Minute, "Spacing between generated points")
	backfillCmd.Flags().StringSliceVar(&backfillSymbols, "symbols", nil, "Symbols to backfill (defaults to market.symbols)")
}
