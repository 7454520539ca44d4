package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var simulateRespectMarket bool

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "运行一次合成行情 tick 并评估告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().SimulateTick(cmd.Context(), !simulateRespectMarket)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "synthetic: %t\ntriggered: %d\n", result.Synthetic, len(result.Triggers))
		if err := writeObservations(out, result.Observations); err != nil {
			return err
		}
		if len(result.Triggers) > 0 {
			return writeTriggerTable(out, result.Triggers)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().BoolVar(&simulateRespectMarket, "respect-market", false, "开盘时间内走真实行情而不是合成数据")
}
