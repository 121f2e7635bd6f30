// Package delivery sends approved alerts to recipients and records every
// attempt.
package delivery

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/mr1hm/go-emergency-alerts/internal/idgen"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

// Sender hands one alert to one recipient and returns the transport's
// operation id.
type Sender interface {
	Send(ctx context.Context, alert *models.Alert, to models.Recipient) (operationID string, err error)
}

// Result summarizes one dispatch. Success is true only when every targeted
// recipient has a successful latest attempt.
type Result struct {
	Success  bool
	Error    string
	Attempts []models.DeliveryAttempt
}

// OperationIDs lists the operation ids of the successful attempts.
func (r Result) OperationIDs() []string {
	var ids []string
	for _, a := range r.Attempts {
		if a.Status == models.AttemptSuccess {
			ids = append(ids, a.OperationID)
		}
	}
	return ids
}

type Dispatcher struct {
	attempts   repository.DeliveryRepository
	recipients repository.RecipientRepository
	sender     Sender
	clock      clock.Clock
	ids        idgen.Generator
}

func NewDispatcher(attempts repository.DeliveryRepository, recipients repository.RecipientRepository,
	sender Sender, clk clock.Clock, ids idgen.Generator) *Dispatcher {
	return &Dispatcher{
		attempts:   attempts,
		recipients: recipients,
		sender:     sender,
		clock:      clk,
		ids:        ids,
	}
}

// Deliver makes the first attempt for every active recipient. An error is
// returned only when attempts could not be loaded or recorded.
func (d *Dispatcher) Deliver(ctx context.Context, alert *models.Alert) (Result, error) {
	recipients, err := d.recipients.ListRecipients(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("error listing recipients: %w", err)
	}
	if len(recipients) == 0 {
		logging.FromContext(ctx).Info("no active recipients, nothing to deliver", "alert_id", alert.ID())
		return Result{Success: true}, nil
	}

	res := Result{Success: true}
	for _, r := range recipients {
		attempt, err := d.send(ctx, alert, r, 1)
		if err != nil {
			res.Success = false
			return res, err
		}
		res.Attempts = append(res.Attempts, *attempt)
		if attempt.Status != models.AttemptSuccess {
			res.Success = false
			res.Error = attempt.Error
		}
	}
	return res, nil
}

// Retry brings every active recipient up to date. Recipients without a
// recorded attempt get their first one; recipients whose latest attempt
// failed get the next one while attempts remain. Success is true only when
// every active recipient's latest attempt succeeded.
func (d *Dispatcher) Retry(ctx context.Context, alert *models.Alert) (Result, error) {
	latest, err := d.attempts.LatestAttempts(ctx, alert.ID())
	if err != nil {
		return Result{}, fmt.Errorf("error loading attempts: %w", err)
	}
	recipients, err := d.recipients.ListRecipients(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("error listing recipients: %w", err)
	}
	byRecipient := make(map[string]models.DeliveryAttempt, len(latest))
	for _, a := range latest {
		byRecipient[a.RecipientID] = a
	}

	res := Result{Success: true}
	for _, r := range recipients {
		next := 1
		if prev, ok := byRecipient[r.ID]; ok {
			if prev.Status == models.AttemptSuccess {
				continue
			}
			if !prev.CanRetry() {
				res.Success = false
				res.Error = fmt.Sprintf("recipient %s exhausted %d attempts", r.ID, prev.AttemptNumber)
				continue
			}
			next = prev.AttemptNumber + 1
		}

		attempt, err := d.send(ctx, alert, r, next)
		if err != nil {
			res.Success = false
			return res, err
		}
		res.Attempts = append(res.Attempts, *attempt)
		if attempt.Status != models.AttemptSuccess {
			res.Success = false
			res.Error = attempt.Error
		}
	}
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, alert *models.Alert, r models.Recipient, number int) (*models.DeliveryAttempt, error) {
	attempt, err := models.NewDeliveryAttempt(d.ids.NewID(), alert.ID(), r.ID, number, d.clock.Now())
	if err != nil {
		return nil, err
	}

	opID, sendErr := d.sender.Send(ctx, alert, r)
	now := d.clock.Now()
	switch {
	case sendErr != nil:
		attempt.MarkFailed(sendErr.Error(), now)
	default:
		if err := attempt.MarkSuccess(opID, now); err != nil {
			attempt.MarkFailed("sender returned no operation id", now)
		}
	}

	if attempt.Status == models.AttemptFailed {
		logging.FromContext(ctx).Warn("delivery attempt failed",
			"alert_id", alert.ID(), "recipient_id", r.ID, "attempt", number, "error", attempt.Error)
	}

	// Record the attempt even if the caller went away; the send already happened.
	if err := d.attempts.AppendAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		return nil, fmt.Errorf("error recording delivery attempt: %w", err)
	}
	return attempt, nil
}
