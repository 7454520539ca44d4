package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find stored price summaries similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchK <= 0 {
			return fmt.Errorf("--k must be greater than zero")
		}
		matches, err := getApp().Search(cmd.Context(), strings.Join(args, " "), searchK)
		if err != nil {
			return err
		}
		return writeMatchTable(cmd.OutOrStdout(), matches)
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 5, "Number of matches to return")
}
