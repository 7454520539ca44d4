package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	newsPublished string
	newsLimit     int
)

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Record and list news headlines",
}

var newsAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Store a headline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var published time.Time
		if newsPublished != "" {
			t, err := time.Parse(time.RFC3339, newsPublished)
			if err != nil {
				return fmt.Errorf("invalid --published value: %w", err)
			}
			published = t
		}
		item, err := getApp().AddNews(cmd.Context(), strings.Join(args, " "), published)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "news #%d stored\n", item.ID)
		return nil
	},
}

var newsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest headlines",
	RunE: func(cmd *cobra.Command, args []string) error {
		if newsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		items, err := getApp().RecentNews(cmd.Context(), newsLimit)
		if err != nil {
			return err
		}
		return writeNewsTable(cmd.OutOrStdout(), items)
	},
}

func init() {
	newsAddCmd.Flags().StringVar(&newsPublished, "published", "", "Publish time (RFC3339, defaults to now)")
	newsListCmd.Flags().IntVar(&newsLimit, "limit", 20, "Number of headlines to display")
	newsCmd.AddCommand(newsAddCmd, newsListCmd)
}
