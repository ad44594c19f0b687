package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricewatch/internal/alert"
	"pricewatch/internal/app"
)

var (
	simulateOrigin      string
	simulateDestination string
	simulateDate        string
	simulateTarget      string
	simulateOriginal    string
	simulatePrice       string
	simulateMode        string
	simulatePercentage  string
	simulateAmount      string
	simulateEmail       string
	simulateTelegram    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格检查并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := decimal.NewFromString(simulateTarget)
		if err != nil {
			return fmt.Errorf("invalid --target value: %w", err)
		}
		observed, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}
		if !target.IsPositive() || !observed.IsPositive() {
			return errors.New("--target and --price must be greater than zero")
		}
		when, err := app.ParseCondition(simulateMode, simulatePercentage, simulateAmount)
		if err != nil {
			return err
		}

		date := time.Now().UTC().AddDate(0, 1, 0)
		if parsed, err := parseDate("date", simulateDate); err != nil {
			return err
		} else if parsed != nil {
			date = *parsed
		}

		opts := app.SimulateOptions{
			Origin:      simulateOrigin,
			Destination: simulateDestination,
			Date:        date,
			Target:      target,
			When:        when,
			Observed:    observed,
			Notify: alert.Preferences{
				Email:          simulateEmail != "",
				EmailAddress:   simulateEmail,
				Telegram:       simulateTelegram != "",
				TelegramChatID: simulateTelegram,
			},
		}
		if simulateOriginal != "" {
			original, err := decimal.NewFromString(simulateOriginal)
			if err != nil {
				return fmt.Errorf("invalid --original value: %w", err)
			}
			opts.Original = &original
		}

		if _, err := getApp().SimulateAlert(cmd.Context(), opts); err != nil {
			return fmt.Errorf("simulate alert: %w", err)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOrigin, "origin", "JFK", "Origin airport")
	simulateCmd.Flags().StringVar(&simulateDestination, "destination", "LHR", "Destination airport")
	simulateCmd.Flags().StringVar(&simulateDate, "date", "", "Departure date (YYYY-MM-DD, defaults to a month out)")
	simulateCmd.Flags().StringVar(&simulateTarget, "target", "", "Target price")
	simulateCmd.Flags().StringVar(&simulateOriginal, "original", "", "Reference price for drop conditions")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Observed price")
	simulateCmd.Flags().StringVar(&simulateMode, "when", "below", "Condition mode")
	simulateCmd.Flags().StringVar(&simulatePercentage, "percentage", "", "Drop percentage")
	simulateCmd.Flags().StringVar(&simulateAmount, "amount", "", "Drop amount")
	simulateCmd.Flags().StringVar(&simulateEmail, "email", "", "Send the simulated alert to this e-mail address")
	simulateCmd.Flags().StringVar(&simulateTelegram, "telegram", "", "Send the simulated alert to this Telegram chat id")
}
