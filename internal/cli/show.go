package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-pulse/internal/app"
)

var (
	showWeeklyLimit int
	showAlertLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest indicator statuses and weekly scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showWeeklyLimit < 0 || showAlertLimit < 0 {
			return fmt.Errorf("limits cannot be negative")
		}

		opts := app.ShowOptions{
			WeeklyLimit: showWeeklyLimit,
			AlertLimit:  showAlertLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showWeeklyLimit, "weeks", 8, "Number of weekly scores to display (0 to hide)")
	showCmd.Flags().IntVar(&showAlertLimit, "alerts", 10, "Number of recent alert firings to display (0 to hide)")
}
