package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AnTengye/casedesk/config"
	"github.com/AnTengye/casedesk/model"
	"github.com/AnTengye/casedesk/pkg/logger"
)

// PaymentVerifier settles charges by asking the provider for the checkout
// state, for when the webhook never arrives
type PaymentVerifier struct {
	repo        Repository
	payments    PaymentGateway
	workflow    *WorkflowService
	interval    time.Duration
	maxAttempts int

	polls sync.Map // charge id -> struct{}, one background poll per charge
	wg    sync.WaitGroup
}

func NewPaymentVerifier(repo Repository, payments PaymentGateway, workflow *WorkflowService, cfg *config.PaymentConfig) *PaymentVerifier {
	v := &PaymentVerifier{
		repo:        repo,
		payments:    payments,
		workflow:    workflow,
		interval:    5 * time.Second,
		maxAttempts: 24,
	}
	if cfg != nil {
		if d := cfg.PollEvery(); d > 0 {
			v.interval = d
		}
		if cfg.PollAttempts > 0 {
			v.maxAttempts = cfg.PollAttempts
		}
	}
	return v
}

// Check asks the provider once and applies a final state. It returns the
// charge as stored afterwards.
func (v *PaymentVerifier) Check(ctx context.Context, chargeID string) (*model.Charge, error) {
	charge, err := v.repo.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.Status != model.ChargePending || charge.CheckoutSessionID == "" {
		return charge, nil
	}

	session, err := v.payments.GetCheckout(ctx, charge.CheckoutSessionID)
	if err != nil {
		return nil, err
	}
	return v.Apply(ctx, charge, session.Status)
}

// Apply moves a charge according to a checkout state reported by the provider
func (v *PaymentVerifier) Apply(ctx context.Context, charge *model.Charge, checkoutStatus string) (*model.Charge, error) {
	switch checkoutStatus {
	case CheckoutComplete:
		return v.workflow.MarkChargePaid(ctx, charge.ID)
	case CheckoutExpired:
		return v.workflow.MarkChargeExpired(ctx, charge.ID)
	default:
		return charge, nil
	}
}

// Poll checks the charge every interval until the provider reports a final
// state, the attempts run out or ctx is cancelled
func (v *PaymentVerifier) Poll(ctx context.Context, chargeID string) (*model.Charge, error) {
	logger.Info(ctx, "polling payment", "charge_id", chargeID, "attempts", v.maxAttempts)

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for i := 0; i < v.maxAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		charge, err := v.Check(ctx, chargeID)
		if err != nil {
			logger.Warn(ctx, "payment poll attempt failed", "charge_id", chargeID, "attempt", i+1, "error", err)
			continue
		}
		if charge.Status != model.ChargePending {
			logger.Info(ctx, "payment settled", "charge_id", chargeID, "status", charge.Status, "attempt", i+1)
			return charge, nil
		}
	}

	logger.Warn(ctx, "payment polling timeout", "charge_id", chargeID)
	return nil, fmt.Errorf("charge %s: %w", chargeID, ErrPaymentPending)
}

// Watch polls the charge in the background until it settles or ctx is done.
// It reports false when a poll for the charge is already running.
func (v *PaymentVerifier) Watch(ctx context.Context, chargeID string) bool {
	if _, running := v.polls.LoadOrStore(chargeID, struct{}{}); running {
		return false
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer v.polls.Delete(chargeID)
		if _, err := v.Poll(ctx, chargeID); err != nil {
			logger.Warn(ctx, "payment polling stopped", "charge_id", chargeID, "error", err)
		}
	}()
	return true
}

// ActivePolls returns the number of background polls still running
func (v *PaymentVerifier) ActivePolls() int {
	n := 0
	v.polls.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Wait blocks until every background poll has returned. Cancel the context
// given to Watch first.
func (v *PaymentVerifier) Wait() {
	v.wg.Wait()
}

// HandleEvent applies a verified webhook event. Unknown event types are
// ignored; a charge that can't be found returns ErrNotFound so the
// provider retries the delivery.
func (v *PaymentVerifier) HandleEvent(ctx context.Context, event *WebhookEvent) error {
	var status string
	switch event.Type {
	case EventCheckoutCompleted:
		status = CheckoutComplete
	case EventCheckoutExpired:
		status = CheckoutExpired
	default:
		logger.Debug(ctx, "ignoring webhook event", "type", event.Type)
		return nil
	}

	charge, err := v.repo.FindChargeBySession(ctx, event.Data.ID)
	if err != nil && event.Data.Reference != "" {
		charge, err = v.repo.GetCharge(ctx, event.Data.Reference)
	}
	if err != nil {
		return err
	}

	_, err = v.Apply(ctx, charge, status)
	return err
}
