package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/cuongbtq/dispatch-be/internal/api/dto"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

func renderProvider(app *AppContext, d *service.ProviderDetail) {
	p := d.Profile
	unmet := make([]string, 0, len(d.Unmet))
	for _, c := range d.Unmet {
		unmet = append(unmet, string(c))
	}
	unmetText := "-"
	if len(unmet) > 0 {
		unmetText = strings.Join(unmet, ", ")
	}

	table := newTable(app.Out, "Field", "Value")
	table.Append("ID", p.ID)
	table.Append("Name", p.DisplayName)
	table.Append("Tier", string(p.Tier))
	table.Append("Available", strconv.FormatBool(p.IsAvailable))
	table.Append("Background check", string(p.BackgroundCheckStatus))
	table.Append("NDA accepted", strconv.FormatBool(p.NDAAccepted))
	table.Append("Payment method", strconv.FormatBool(p.HasPaymentMethodOnFile))
	table.Append("Incident card", orDash(p.IncidentPaymentMethodRef))
	table.Append("Payout onboarded", strconv.FormatBool(p.PayoutOnboarded))
	table.Append("Outstanding", d.OutstandingTotal.String())
	table.Append("Can accept jobs", strconv.FormatBool(p.CanAcceptJobs))
	table.Append("Unmet", unmetText)
	table.Render()
}

func providerShow(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	d, err := app.Service.GetProvider(ctx, app.Actor, cmd.String("id"))
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.FromProviderDetail(d))
	}
	renderProvider(app, d)
	return nil
}

// complianceUpdate turns the flags that were actually passed into an update
func complianceUpdate(cmd *cli.Command) (service.ComplianceUpdate, error) {
	var u service.ComplianceUpdate
	boolFlag := func(name string) *bool {
		if !cmd.IsSet(name) {
			return nil
		}
		v := cmd.Bool(name)
		return &v
	}
	stringFlag := func(name string) *string {
		if !cmd.IsSet(name) {
			return nil
		}
		v := cmd.String(name)
		return &v
	}

	u.HasPaymentMethodOnFile = boolFlag("payment-method")
	u.NDAAccepted = boolFlag("nda")
	u.PayoutOnboarded = boolFlag("payout-onboarded")
	u.IsAvailable = boolFlag("available")
	u.IncidentPaymentMethodRef = stringFlag("incident-payment-method")
	u.PayoutAccountRef = stringFlag("payout-account")

	if v := stringFlag("background-check"); v != nil {
		status := domain.BackgroundCheckStatus(*v)
		switch status {
		case domain.BackgroundCheckPending, domain.BackgroundCheckClear, domain.BackgroundCheckRejected:
		default:
			return u, fmt.Errorf("invalid --background-check %q (pending, clear or rejected)", *v)
		}
		u.BackgroundCheckStatus = &status
	}
	if v := stringFlag("tier"); v != nil {
		tier := domain.PayoutTier(*v)
		if !tier.Valid() {
			return u, fmt.Errorf("invalid --tier %q (independent or verified_pro)", *v)
		}
		u.Tier = &tier
	}
	return u, nil
}

func providerCompliance(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	u, err := complianceUpdate(cmd)
	if err != nil {
		return err
	}
	d, err := app.Service.UpdateCompliance(ctx, app.Actor, cmd.String("id"), u)
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.FromProviderDetail(d))
	}
	renderProvider(app, d)
	return nil
}
