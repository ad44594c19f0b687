package cli

import (
	"github.com/spf13/cobra"
)

var checkAlertID string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one tracking tick now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), checkAlertID)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkAlertID, "alert", "", "Check a single alert instead of every active one")
}
