package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

// AppContext holds what a command needs to run
type AppContext struct {
	Service *service.Service
	Actor   domain.Actor
	Out     io.Writer
	close   func()
}

// NewAppContext builds an AppContext. closeFn may be nil.
func NewAppContext(svc *service.Service, actor domain.Actor, out io.Writer, closeFn func()) *AppContext {
	if out == nil {
		out = os.Stdout
	}
	return &AppContext{Service: svc, Actor: actor, Out: out, close: closeFn}
}

// Close releases whatever the opener acquired
func (ac *AppContext) Close() {
	if ac.close != nil {
		ac.close()
	}
}

// Opener builds the AppContext for one invocation from the root flags
type Opener func(ctx context.Context, cmd *cli.Command) (*AppContext, error)

// actionFunc is a command body that runs with an open AppContext
type actionFunc func(ctx context.Context, cmd *cli.Command, app *AppContext) error

func withApp(open Opener, fn actionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := open(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(ctx, cmd, app)
	}
}

func wantJSON(cmd *cli.Command) bool {
	return cmd.String("output") == "json"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	return table
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
