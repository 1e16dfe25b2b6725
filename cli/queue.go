// ABOUTME: Queue and approval CLI commands
// ABOUTME: Lists, counts, drains, retries, acknowledges, and purges queued orders; answers approvals
package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
)

// QueueListCommand lists queued orders.
func QueueListCommand(ctx context.Context, a *App, args []string) error {
	fs := flag.NewFlagSet("queue list", flag.ExitOnError)
	status := fs.String("status", "", "Comma separated statuses (PENDING, IN_FLIGHT, CONFIRMED, FAILED)")
	_ = fs.Parse(args)

	var statuses []models.OrderStatus
	if *status != "" {
		for _, part := range strings.Split(*status, ",") {
			st := models.OrderStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", part)
			}
			statuses = append(statuses, st)
		}
	}

	orders, err := a.Queue.List(ctx, statuses...)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	if len(orders) == 0 {
		a.printf("No orders found.\n")
		return nil
	}

	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARTNER\tSTATUS\tTRIES\tSERVER ID\tERROR")
	fmt.Fprintln(w, "--\t-------\t------\t-----\t---------\t-----")
	for _, o := range orders {
		serverID := ""
		if o.ServerID != 0 {
			serverID = fmt.Sprintf("%d", o.ServerID)
		}
		errText := o.ErrorMessage
		if o.ErrorKind != "" {
			errText = fmt.Sprintf("[%s] %s", o.ErrorKind, o.ErrorMessage)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", o.ID, o.Payload.PartnerCode, o.Status, o.Attempts, serverID, errText)
	}
	_ = w.Flush()

	a.printf("\nTotal: %d order(s)\n", len(orders))
	return nil
}

// QueueCountCommand prints the number of orders per status.
func QueueCountCommand(ctx context.Context, a *App, args []string) error {
	counts, err := a.Queue.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count queue: %w", err)
	}
	for _, st := range models.AllStatuses {
		a.printf("%-10s %d\n", st, counts[st])
	}
	return nil
}

// QueueDrainCommand submits pending orders now.
func QueueDrainCommand(ctx context.Context, a *App, args []string) error {
	report, err := a.Queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("failed to drain queue: %w", err)
	}
	a.printDrain(report)
	return nil
}

// QueueRetryCommand requeues failed orders and drains.
func QueueRetryCommand(ctx context.Context, a *App, args []string) error {
	fs := flag.NewFlagSet("queue retry", flag.ExitOnError)
	all := fs.Bool("all", false, "Also retry orders the server rejected")
	_ = fs.Parse(args)

	scope := queue.RetryRetryableOnly
	if *all {
		scope = queue.RetryAll
	}
	report, err := a.Queue.RetryFailed(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to retry orders: %w", err)
	}
	a.printf("Requeued: %d\n", report.Requeued)
	a.printDrain(report)
	return nil
}

// QueueAckCommand removes a confirmed order.
func QueueAckCommand(ctx context.Context, a *App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: queue ack <order-id>")
	}
	if err := a.Queue.Acknowledge(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to acknowledge order: %w", err)
	}
	a.printf("✓ Order removed: %s\n", args[0])
	return nil
}

// QueuePurgeCommand removes confirmed orders past the retention period.
func QueuePurgeCommand(ctx context.Context, a *App, args []string) error {
	n, err := a.Queue.Purge(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	a.printf("✓ Purged %d confirmed order(s)\n", n)
	return nil
}

// ApprovalRespondCommand answers an approval request as the session user.
func ApprovalRespondCommand(ctx context.Context, a *App, args []string) error {
	fs := flag.NewFlagSet("approval respond", flag.ExitOnError)
	status := fs.String("status", "", "APROVADO or REJEITADO (required)")
	justification := fs.String("justification", "", "Reason for the decision")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: approval respond --status <APROVADO|REJEITADO> [--justification <text>] <approval-id>")
	}
	if *status == "" {
		return fmt.Errorf("--status is required")
	}

	approval, err := a.Queue.RespondApproval(ctx, fs.Arg(0),
		models.ApprovalStatus(strings.ToUpper(*status)), *justification, a.Config.Session)
	if err != nil {
		return fmt.Errorf("failed to respond to approval: %w", err)
	}
	a.printf("✓ Approval %s: %s\n", approval.ID, approval.Status)
	return nil
}

// ApprovalListCommand lists approval requests raised on this device.
func ApprovalListCommand(ctx context.Context, a *App, args []string) error {
	approvals, err := a.Queue.Approvals(ctx)
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}
	if len(approvals) == 0 {
		a.printf("No approval requests found.\n")
		return nil
	}

	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORDER\tSTATUS\tAPPROVER\tVIOLATIONS")
	fmt.Fprintln(w, "--\t-----\t------\t--------\t----------")
	for _, ap := range approvals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ap.ID, ap.OrderID, ap.Status, ap.ApproverID,
			strings.Join(ap.ViolationMessages(), "; "))
	}
	return w.Flush()
}

func (a *App) printDrain(r queue.DrainReport) {
	if r.Skipped {
		a.printf("A drain is already running, nothing done.\n")
		return
	}
	if r.Recovered > 0 {
		a.printf("Recovered after restart: %d\n", r.Recovered)
	}
	a.printf("Sent: %d  Confirmed: %d  Failed: %d  Waiting for approval: %d\n",
		r.Attempted, r.Confirmed, r.Failed, r.Held)
	if r.ApprovalsRegistered > 0 || r.ApprovalsUpdated > 0 {
		a.printf("Approvals registered: %d  answered: %d\n", r.ApprovalsRegistered, r.ApprovalsUpdated)
	}
	for _, res := range r.Results {
		switch {
		case res.ServerID != 0:
			a.printf("  ✓ %s → server order %d\n", res.OrderID, res.ServerID)
		case res.Error != "":
			a.printf("  ✗ %s: %s\n", res.OrderID, res.Error)
		}
	}
}
