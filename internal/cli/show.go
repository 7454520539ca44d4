package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stockwatcher/internal/app"
)

var (
	showLimit   int
	showSymbols []string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Symbols: parseSymbols(showSymbols),
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
	showCmd.Flags().StringSliceVar(&showSymbols, "symbol", nil, "Only show these symbols (repeatable or comma separated)")
}
