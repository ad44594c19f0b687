package cli

import (
	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	historyOrigin      string
	historyDestination string
	historyLocation    string
	historyDate        string
	historyNights      int
	historyCurrency    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show price insights for a route or hotel location",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDate("date", historyDate)
		if err != nil {
			return err
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			Origin:      historyOrigin,
			Destination: historyDestination,
			Location:    historyLocation,
			Date:        date,
			Nights:      historyNights,
			Currency:    historyCurrency,
		})
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyOrigin, "origin", "", "Origin airport")
	historyCmd.Flags().StringVar(&historyDestination, "destination", "", "Destination airport")
	historyCmd.Flags().StringVar(&historyLocation, "location", "", "Hotel location")
	historyCmd.Flags().StringVar(&historyDate, "date", "", "Search live for this date first (YYYY-MM-DD)")
	historyCmd.Flags().IntVar(&historyNights, "nights", 1, "Nights for a live hotel search")
	historyCmd.Flags().StringVar(&historyCurrency, "currency", "USD", "Currency code")
}
