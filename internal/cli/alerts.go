package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricewatch/internal/alert"
	"pricewatch/internal/app"
	"pricewatch/internal/storage"
)

var (
	alertUser        string
	alertType        string
	alertOrigin      string
	alertDestination string
	alertLocation    string
	alertDeparture   string
	alertReturn      string
	alertAdults      int
	alertChildren    int
	alertInfants     int
	alertCabin       string
	alertRooms       int
	alertTarget      string
	alertOriginal    string
	alertCurrency    string
	alertMode        string
	alertPercentage  string
	alertAmount      string
	alertEmail       string
	alertTelegram    string

	listStatus string
	listType   string
	listLimit  int
	listOffset int
	listAll    bool
	listJSON   bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a price alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := createParams()
		if err != nil {
			return err
		}
		_, err = getApp().CreateAlert(cmd.Context(), params)
		return err
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listLimit < 0 || listOffset < 0 {
			return fmt.Errorf("--limit and --offset cannot be negative")
		}
		return getApp().ListAlerts(cmd.Context(), app.ListOptions{
			UserID: alertUser,
			Filter: storage.ListOptions{
				Status:         alert.Status(listStatus),
				Type:           alert.Type(listType),
				IncludeDeleted: listAll,
				Limit:          listLimit,
				Offset:         listOffset,
			},
			JSON: listJSON,
		})
	},
}

var alertsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print an alert with its price history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowAlert(cmd.Context(), args[0])
	},
}

var alertsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteAlert(cmd.Context(), args[0])
	},
}

var alertsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count a user's alerts by status and type",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertStats(cmd.Context(), alertUser)
	},
}

func statusCmd(action app.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := getApp().ChangeStatus(cmd.Context(), args[0], action)
			return err
		},
	}
}

func createParams() (alert.Params, error) {
	target, err := decimal.NewFromString(alertTarget)
	if err != nil {
		return alert.Params{}, fmt.Errorf("invalid --target value: %w", err)
	}
	when, err := app.ParseCondition(alertMode, alertPercentage, alertAmount)
	if err != nil {
		return alert.Params{}, err
	}
	departure, err := parseDate("depart", alertDeparture)
	if err != nil {
		return alert.Params{}, err
	}
	ret, err := parseDate("return", alertReturn)
	if err != nil {
		return alert.Params{}, err
	}

	params := alert.Params{
		UserID: alertUser,
		Type:   alert.Type(strings.ToLower(alertType)),
		Search: alert.Search{
			Origin:        alertOrigin,
			Destination:   alertDestination,
			Location:      alertLocation,
			DepartureDate: departure,
			ReturnDate:    ret,
			Passengers:    alert.Passengers{Adults: alertAdults, Children: alertChildren, Infants: alertInfants},
			Cabin:         alertCabin,
			Rooms:         alertRooms,
		},
		TargetPrice: target,
		Currency:    alertCurrency,
		When:        when,
		Notify: alert.Preferences{
			Email:          alertEmail != "",
			EmailAddress:   alertEmail,
			Telegram:       alertTelegram != "",
			TelegramChatID: alertTelegram,
		},
	}
	if alertOriginal != "" {
		original, err := decimal.NewFromString(alertOriginal)
		if err != nil {
			return alert.Params{}, fmt.Errorf("invalid --original value: %w", err)
		}
		params.OriginalPrice = &original
	}
	return params, nil
}

func init() {
	alertsCmd.PersistentFlags().StringVar(&alertUser, "user", "", "Owner of the alerts")

	f := alertsCreateCmd.Flags()
	f.StringVar(&alertType, "type", "flight", "Alert type: flight, hotel, car or package")
	f.StringVar(&alertOrigin, "origin", "", "Origin airport (flights)")
	f.StringVar(&alertDestination, "destination", "", "Destination airport or city")
	f.StringVar(&alertLocation, "location", "", "Location (hotels, cars)")
	f.StringVar(&alertDeparture, "depart", "", "Departure or check-in date (YYYY-MM-DD)")
	f.StringVar(&alertReturn, "return", "", "Return or check-out date (YYYY-MM-DD)")
	f.IntVar(&alertAdults, "adults", 1, "Adult travellers")
	f.IntVar(&alertChildren, "children", 0, "Child travellers")
	f.IntVar(&alertInfants, "infants", 0, "Infant travellers")
	f.StringVar(&alertCabin, "cabin", "", "Cabin class")
	f.IntVar(&alertRooms, "rooms", 1, "Hotel rooms")
	f.StringVar(&alertTarget, "target", "", "Target price")
	f.StringVar(&alertOriginal, "original", "", "Reference price for drop conditions")
	f.StringVar(&alertCurrency, "currency", "USD", "Currency code")
	f.StringVar(&alertMode, "when", "below", "Condition: below, drop_by_percentage or drop_by_amount")
	f.StringVar(&alertPercentage, "percentage", "", "Drop percentage for drop_by_percentage")
	f.StringVar(&alertAmount, "amount", "", "Drop amount for drop_by_amount")
	f.StringVar(&alertEmail, "email", "", "Notify this e-mail address")
	f.StringVar(&alertTelegram, "telegram", "", "Notify this Telegram chat id")
	_ = alertsCreateCmd.MarkFlagRequired("target")

	l := alertsListCmd.Flags()
	l.StringVar(&listStatus, "status", "", "Filter by status")
	l.StringVar(&listType, "type", "", "Filter by type")
	l.IntVar(&listLimit, "limit", 50, "Maximum alerts to list")
	l.IntVar(&listOffset, "offset", 0, "Alerts to skip")
	l.BoolVar(&listAll, "all", false, "Include deleted alerts")
	l.BoolVar(&listJSON, "json", false, "Print JSON")

	alertsCmd.AddCommand(
		alertsCreateCmd,
		alertsListCmd,
		alertsShowCmd,
		statusCmd(app.ActionPause, "Pause an active alert"),
		statusCmd(app.ActionResume, "Resume a paused alert"),
		statusCmd(app.ActionRearm, "Re-arm a triggered alert"),
		alertsDeleteCmd,
		alertsStatsCmd,
	)
}
