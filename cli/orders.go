// ABOUTME: Order CLI commands
// ABOUTME: Queues and evaluates orders described in a JSON file
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
)

// orderFile is the JSON accepted by --file.
type orderFile struct {
	models.OrderDraft
	Origin        models.Origin `json:"origin,omitempty"`
	LeadID        string        `json:"lead_id,omitempty"`
	ApproverID    string        `json:"approver_id,omitempty"`
	Justification string        `json:"justification,omitempty"`
}

func (a *App) readOrderFile(path string) (orderFile, error) {
	var r io.Reader
	if path == "-" {
		r = a.In
	} else {
		f, err := os.Open(path)
		if err != nil {
			return orderFile{}, fmt.Errorf("failed to open order file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var of orderFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&of); err != nil {
		return orderFile{}, fmt.Errorf("%w: failed to parse order file: %v", models.ErrInvalidPayload, err)
	}
	if of.CompanyID == "" {
		of.CompanyID = a.Config.Session.CompanyID
	}
	return of, nil
}

// OrderAddCommand validates an order and stores it in the local queue.
func OrderAddCommand(ctx context.Context, a *App, args []string) error {
	fs := flag.NewFlagSet("order add", flag.ExitOnError)
	file := fs.String("file", "", "Order JSON file, or - for stdin (required)")
	approver := fs.String("approver", "", "Approver user ID, overrides the file")
	justification := fs.String("justification", "", "Approval justification, overrides the file")
	_ = fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("--file is required")
	}
	of, err := a.readOrderFile(*file)
	if err != nil {
		return err
	}
	if *approver != "" {
		of.ApproverID = *approver
	}
	if *justification != "" {
		of.Justification = *justification
	}

	req := queue.EnqueueRequest{
		Draft:  of.OrderDraft,
		Origin: of.Origin,
		LeadID: of.LeadID,
		Seller: a.Config.Session,
	}
	if of.ApproverID != "" || of.Justification != "" {
		req.Approval = &queue.ApprovalInput{ApproverID: of.ApproverID, Justification: of.Justification}
	}

	res, err := a.Queue.Enqueue(ctx, req)
	var verr *models.ViolationsError
	if errors.As(err, &verr) {
		a.printf("✗ Order needs approval:\n")
		for _, v := range verr.Violations {
			a.printf("  - %s\n", v.Message)
		}
		a.printf("  Re-run with --approver <id> --justification <text>\n")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to queue order: %w", err)
	}

	a.printf("✓ Order queued: %s\n", res.Order.ID)
	a.printf("  Partner: %s\n", res.Order.Payload.PartnerCode)
	a.printf("  Lines: %d\n", len(res.Order.Payload.Lines))
	if res.Approval != nil {
		a.printf("  Approval requested from %s (ID: %s)\n", res.Approval.ApproverID, res.Approval.ID)
	}
	return nil
}

// OrderEvaluateCommand shows the totals and policy violations of an order without queueing it.
func OrderEvaluateCommand(ctx context.Context, a *App, args []string) error {
	fs := flag.NewFlagSet("order evaluate", flag.ExitOnError)
	file := fs.String("file", "", "Order JSON file, or - for stdin (required)")
	_ = fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("--file is required")
	}
	of, err := a.readOrderFile(*file)
	if err != nil {
		return err
	}

	violations, totals, err := a.Queue.Evaluate(ctx, of.OrderDraft)
	if err != nil {
		return fmt.Errorf("failed to evaluate order: %w", err)
	}

	a.printf("Gross:    R$ %s\n", totals.Gross.StringFixed(2))
	a.printf("Discount: R$ %s\n", totals.Discount.StringFixed(2))
	a.printf("Net:      R$ %s\n", totals.Net.StringFixed(2))
	a.printf("Tax:      R$ %s\n", totals.Tax.StringFixed(2))
	a.printf("Total:    R$ %s\n", totals.Total.StringFixed(2))

	if len(violations) == 0 {
		a.printf("\n✓ No policy violations\n")
		return nil
	}
	a.printf("\n✗ %d violation(s), approval required:\n", len(violations))
	for _, v := range violations {
		a.printf("  - [%s] %s\n", v.Kind, v.Message)
	}
	return nil
}
