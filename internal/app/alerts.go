package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/alert"
	"pricewatch/internal/notify"
	"pricewatch/internal/storage"
)

// ListOptions configure the alerts list command.
type ListOptions struct {
	UserID string
	Filter storage.ListOptions
	JSON   bool
}

// Action is a lifecycle change requested from the CLI.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionRearm  Action = "rearm"
)

// CreateAlert validates and persists a new alert.
func (a *App) CreateAlert(ctx context.Context, params alert.Params) (*alert.PriceAlert, error) {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	if params.Expiry <= 0 {
		params.Expiry = a.Config.Alerts.DefaultExpiry
	}
	pa, err := alert.New(params, time.Now())
	if err != nil {
		return nil, err
	}
	if !pa.When.Complete() {
		a.Logger.Warn().Str("mode", string(pa.When.Mode)).Msg("alert condition has no threshold and will never trigger")
	}
	if !a.routable(pa.Notify) {
		a.Logger.Warn().Strs("requested", notify.Requested(pa.Notify)).Msg("alert requests no configured notification channel; triggers will only be logged")
	}

	created, err := store.Create(ctx, pa)
	if err != nil {
		return nil, err
	}
	a.printf("created %s (%s, expires %s)\n", created.ID, created.Type, created.ExpiresAt.Format(time.RFC3339))
	return created, nil
}

// ListAlerts prints a user's alerts.
func (a *App) ListAlerts(ctx context.Context, opts ListOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.FindByUser(ctx, opts.UserID, opts.Filter)
	if err != nil {
		return err
	}
	if opts.JSON {
		return a.printJSON(alerts)
	}
	if len(alerts) == 0 {
		a.printf("no alerts found\n")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tType\tSearch\tTarget\tCurrent\tStatus\tChecks\tExpires (UTC)")
	for _, pa := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			pa.ID,
			pa.Type,
			describeSearch(pa),
			pa.TargetPrice.StringFixed(2)+" "+pa.Currency,
			formatPrice(pa.CurrentPrice),
			pa.Status,
			pa.CheckCount,
			pa.ExpiresAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

// ShowAlert prints one alert as JSON.
func (a *App) ShowAlert(ctx context.Context, id string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pa, err := store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return a.printJSON(pa)
}

// ChangeStatus applies a lifecycle action.
func (a *App) ChangeStatus(ctx context.Context, id string, action Action) (*alert.PriceAlert, error) {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	now := time.Now()
	updated, err := store.Update(ctx, id, func(pa *alert.PriceAlert) error {
		switch action {
		case ActionPause:
			return pa.Pause(now)
		case ActionResume:
			return pa.Resume(now)
		case ActionRearm:
			return pa.Rearm(now)
		default:
			return fmt.Errorf("unknown action %q", action)
		}
	})
	if err != nil {
		return nil, err
	}
	a.printf("%s is now %s\n", updated.ID, updated.Status)
	return updated, nil
}

// DeleteAlert soft-deletes an alert.
func (a *App) DeleteAlert(ctx context.Context, id string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("alert %s: %w", id, storage.ErrNotFound)
	}
	a.printf("deleted %s\n", id)
	return nil
}

// AlertStats prints per-status counts for a user.
func (a *App) AlertStats(ctx context.Context, userID string) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	stats, err := store.Stats(ctx, userID)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "total\t%d\n", stats.Total)
	fmt.Fprintf(writer, "active\t%d\n", stats.Active)
	fmt.Fprintf(writer, "triggered\t%d\n", stats.Triggered)
	fmt.Fprintf(writer, "paused\t%d\n", stats.Paused)
	fmt.Fprintf(writer, "expired\t%d\n", stats.Expired)
	for _, typ := range alert.Types {
		if n := stats.ByType[typ]; n > 0 {
			fmt.Fprintf(writer, "%s\t%d\n", typ, n)
		}
	}
	return writer.Flush()
}

// ParseCondition builds an alert condition from CLI flags.
func ParseCondition(mode, percentage, amount string) (alert.Condition, error) {
	cond := alert.Condition{Mode: alert.Mode(mode)}
	if cond.Mode == "" {
		cond.Mode = alert.ModeBelow
	}
	if !cond.Mode.Valid() {
		return cond, &alert.ValidationError{Field: "alert_when.mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if percentage != "" {
		d, err := decimal.NewFromString(percentage)
		if err != nil {
			return cond, &alert.ValidationError{Field: "alert_when.percentage", Reason: err.Error()}
		}
		cond.Percentage = &d
	}
	if amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return cond, &alert.ValidationError{Field: "alert_when.amount", Reason: err.Error()}
		}
		cond.Amount = &d
	}
	return cond, nil
}

func describeSearch(pa *alert.PriceAlert) string {
	switch pa.Type {
	case alert.TypeFlight:
		route := pa.Search.Origin + "-" + pa.Search.Destination
		if pa.Search.DepartureDate != nil {
			route += " " + pa.Search.DepartureDate.Format(time.DateOnly)
		}
		return route
	default:
		return sanitizeInline(strings.TrimSpace(pa.Search.Location + " " + pa.Search.Destination))
	}
}

func formatPrice(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format, args...)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
