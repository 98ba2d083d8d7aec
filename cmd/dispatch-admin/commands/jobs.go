package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/cuongbtq/dispatch-be/internal/api/dto"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

func jobShow(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	jobID := cmd.String("id")
	view, err := app.Service.GetJob(ctx, app.Actor, jobID)
	if err != nil {
		return err
	}
	attempts, err := app.Service.ListMatchAttempts(ctx, app.Actor, jobID)
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		return writeJSON(app.Out, map[string]any{
			"job":      dto.FromJobView(view),
			"attempts": dto.FromMatchAttempts(attempts),
		})
	}

	job := view.Job
	provider := "-"
	if view.Provider != nil {
		provider = fmt.Sprintf("%s (%s)", view.Provider.DisplayName, view.Provider.ID)
	}
	table := newTable(app.Out, "Field", "Value")
	table.Append("ID", job.ID)
	table.Append("Status", string(job.Status))
	table.Append("Service", job.ServiceType)
	table.Append("Customer", job.CustomerID)
	table.Append("Provider", provider)
	table.Append("Matching", string(view.MatchingState))
	table.Append("Manual match", strconv.FormatBool(view.NeedsManualMatch))
	table.Append("Payment", string(job.PaymentStatus))
	table.Append("Live price", job.LivePrice.String())
	table.Append("Created", formatTime(&job.CreatedAt))
	table.Render()

	if len(attempts) > 0 {
		fmt.Fprintln(app.Out)
		renderAttempts(app, attempts)
	}
	return nil
}

func jobManualQueue(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	page, err := app.Service.ListJobs(ctx, app.Actor, service.ListJobsInput{
		ManualQueue: true,
		PageSize:    cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.FromJobViews(page.Jobs))
	}

	if len(page.Jobs) == 0 {
		fmt.Fprintln(app.Out, "No jobs awaiting manual matching")
		return nil
	}

	table := newTable(app.Out, "Job ID", "Service", "Customer", "Matching", "Estimate", "Created At")
	for _, v := range page.Jobs {
		table.Append(
			v.Job.ID,
			v.Job.ServiceType,
			v.Job.CustomerID,
			string(v.MatchingState),
			v.Job.PriceEstimate.String(),
			formatTime(&v.Job.CreatedAt),
		)
	}
	table.Render()
	if page.HasMore {
		fmt.Fprintln(app.Out, "More jobs waiting; raise --limit to see them")
	}
	return nil
}

func jobRematch(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	res, err := app.Service.RematchJob(ctx, app.Actor, cmd.String("id"))
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.CreateJobResponse{
			Job:      dto.FromJobView(res.View),
			Attempts: dto.FromMatchAttempts(res.Attempts),
		})
	}

	if len(res.Attempts) == 0 {
		fmt.Fprintf(app.Out, "Job %s re-opened but no eligible providers were found; it stays in the manual queue\n", res.View.Job.ID)
		return nil
	}
	fmt.Fprintf(app.Out, "Job %s offered to %d provider(s)\n", res.View.Job.ID, len(res.Attempts))
	renderAttempts(app, res.Attempts)
	return nil
}

func jobNoShow(ctx context.Context, cmd *cli.Command, app *AppContext) error {
	res, err := app.Service.ReportNoShow(ctx, app.Actor, cmd.String("id"), cmd.String("note"))
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		return writeJSON(app.Out, dto.CancelJobResponse{
			Job:            dto.FromJobView(res.View),
			PenaltyID:      res.PenaltyID,
			PenaltyAmount:  int64(res.PenaltyAmount),
			PenaltyCharged: res.PenaltyCharged,
			NoShow:         res.NoShow,
		})
	}

	charged := "left assessed"
	if res.PenaltyCharged {
		charged = "charged"
	}
	fmt.Fprintf(app.Out, "Job %s cancelled for no-show; penalty %s of %s %s\n",
		res.View.Job.ID, res.PenaltyID, res.PenaltyAmount, charged)
	return nil
}
