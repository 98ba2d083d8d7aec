package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/cuongbtq/dispatch-be/internal/api/dto"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

func renderAttempts(app *AppContext, attempts []domain.MatchAttempt) {
	table := newTable(app.Out, "Attempt ID", "Provider", "Rank", "Status", "Quote", "ETA", "Distance")
	for _, a := range attempts {
		table.Append(
			a.ID,
			a.ProviderID,
			fmt.Sprintf("%d", a.Rank),
			string(a.Status),
			a.QuotedPrice.String(),
			fmt.Sprintf("%d min", a.EtaMinutes),
			fmt.Sprintf("%.1f mi", a.DistanceMiles),
		)
	}
	table.Render()
}

func renderPenalties(app *AppContext, penalties []domain.Penalty) {
	table := newTable(app.Out, "Penalty ID", "Provider", "Job", "Amount", "Status", "Charge Ref", "Created At")
	for _, p := range penalties {
		table.Append(
			p.ID,
			p.ProviderID,
			p.JobID,
			p.Amount.String(),
			string(p.Status),
			orDash(p.ChargeRef),
			formatTime(&p.CreatedAt),
		)
	}
	table.Render()
}

func penaltyList(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	filter := store.PenaltyFilter{
		ProviderID: cmd.String("provider"),
		JobID:      cmd.String("job"),
		Status:     domain.PenaltyStatus(cmd.String("status")),
	}
	penalties, err := app.Service.ListPenalties(ctx, app.Actor, filter)
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.FromPenalties(penalties))
	}
	if len(penalties) == 0 {
		fmt.Fprintln(app.Out, "No penalties found")
		return nil
	}
	renderPenalties(app, penalties)
	return nil
}

func penaltyWaive(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	p, err := app.Service.WaivePenalty(ctx, app.Actor, cmd.String("id"), cmd.String("reason"))
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.FromPenalty(p))
	}
	fmt.Fprintf(app.Out, "Penalty %s waived\n", p.ID)
	return nil
}

func penaltyRetry(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	p, err := app.Service.RetryPenaltyCharge(ctx, app.Actor, cmd.String("id"))
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.FromPenalty(p))
	}
	if p.Status == domain.PenaltyStatusCharged {
		fmt.Fprintf(app.Out, "Penalty %s charged (%s)\n", p.ID, orDash(p.ChargeRef))
		return nil
	}
	fmt.Fprintf(app.Out, "Penalty %s is still %s\n", p.ID, p.Status)
	return nil
}
