package schedule

import (
	"context" // Pass scope
	"errors"  // Error inspection
	"time"    // Due times

	"banking_system/internal/domain" // Scheduled payments and errors
	"banking_system/internal/ledger" // Money-movement engine
	"banking_system/internal/store"  // Repositories

	"github.com/robfig/cron/v3"  // Cron scheduler
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

const defaultBatch = 100 // Due payments claimed per pass

var errSkipped = errors.New("schedule: payment claimed elsewhere")

// Summary counts the outcomes of one executor pass
type Summary struct {
	Due     int `json:"due"`     // Selected as due
	Paid    int `json:"paid"`    // Money moved
	Failed  int `json:"failed"`  // Business failure recorded on the payment
	Skipped int `json:"skipped"` // Claimed by another pass
}

// Invalidator drops cached balances and histories of the given users
type Invalidator func(ctx context.Context, userIDs ...uint) error

// Executor pays scheduled payments whose next run has passed
type Executor struct {
	store      store.Store    // Repositories
	engine     *ledger.Engine // Money-movement engine
	batch      int            // Due payments per pass
	invalidate Invalidator    // Cache invalidation after a payment, may be nil
}

// NewExecutor creates an Executor paying through engine
func NewExecutor(s store.Store, engine *ledger.Engine) *Executor {
	return &Executor{store: s, engine: engine, batch: defaultBatch}
}

// WithInvalidator sets the hook run for the payer and payee owners after each committed payment
func (x *Executor) WithInvalidator(fn Invalidator) *Executor {
	x.invalidate = fn
	return x
}

// RunDue pays every due payment, each in its own transaction. A payee IBAN held by an account of
// this bank is paid by internal transfer, any other IBAN by external outgoing payment.
//
// Business failures are recorded on the payment: one-off payments become failed, recurring ones
// move to their next occurrence. Each pass advances a payment by one occurrence at most.
func (x *Executor) RunDue(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary
	ids, err := x.store.ScheduledPayments().DueIDs(ctx, now, x.batch)
	if err != nil {
		return sum, err
	}
	sum.Due = len(ids)

	for _, id := range ids {
		var (
			payErr  error  // Business failure of this occurrence
			touched []uint // Owners whose balances moved
		)
		err := x.store.WithinTx(ctx, func(tx store.Store) error {
			p, err := tx.ScheduledPayments().LockDue(ctx, id, now)
			if errors.Is(err, domain.ErrNotFound) {
				return errSkipped
			}
			if err != nil {
				return err
			}
			touched, payErr = x.pay(ctx, tx, p)
			if payErr != nil && !isBusinessError(payErr) {
				return payErr
			}
			advance(p, now, payErr)
			return tx.ScheduledPayments().SaveRun(ctx, p)
		})
		switch {
		case errors.Is(err, errSkipped):
			sum.Skipped++
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"payment_id": id,
				"error":      err.Error(),
			}).Error("Scheduled payment run aborted")
			return sum, err
		case payErr != nil:
			sum.Failed++
			logrus.WithFields(logrus.Fields{
				"payment_id": id,
				"error":      payErr.Error(),
			}).Warn("Scheduled payment failed")
		default:
			sum.Paid++
			x.invalidateUsers(ctx, id, touched)
		}
	}
	return sum, nil
}

// invalidateUsers runs the cache hook; a failure only costs freshness until the cache TTL
func (x *Executor) invalidateUsers(ctx context.Context, paymentID uint, userIDs []uint) {
	if x.invalidate == nil || len(userIDs) == 0 {
		return
	}
	if err := x.invalidate(ctx, userIDs...); err != nil {
		logrus.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"error":      err.Error(),
		}).Warn("Cache invalidation after scheduled payment failed")
	}
}

// pay moves the money for one occurrence and returns the owners whose balances changed
func (x *Executor) pay(ctx context.Context, tx store.Store, p *domain.ScheduledPayment) ([]uint, error) {
	engine := x.engine.WithStore(tx)
	reference := p.PayeeName
	if p.Notes != nil {
		reference = *p.Notes
	}

	target, err := tx.Accounts().FindByIBAN(ctx, p.PayeeIBAN)
	switch {
	case err == nil:
		_, err = engine.Transfer(ctx, ledger.TransferRequest{
			FromAccountID: p.AccountID,
			ToAccountID:   target.ID,
			UserID:        p.UserID,
			Amount:        p.Amount,
			Reference:     reference,
		})
		if err != nil {
			return nil, err
		}
		if target.UserID != p.UserID {
			return []uint{p.UserID, target.UserID}, nil // Payee banks here too
		}
		return []uint{p.UserID}, nil
	case errors.Is(err, domain.ErrNotFound):
		_, err = engine.ExternalOutgoing(ctx, ledger.OutgoingRequest{
			FromAccountID: p.AccountID,
			UserID:        p.UserID,
			RecipientName: p.PayeeName,
			RecipientIBAN: p.PayeeIBAN,
			Amount:        p.Amount,
			Reference:     reference,
		})
		if err != nil {
			return nil, err
		}
		return []uint{p.UserID}, nil
	default:
		return nil, err
	}
}

// advance records the attempt and moves the payment to its next state
func advance(p *domain.ScheduledPayment, now time.Time, payErr error) {
	p.LastRunAt = &now
	p.LastError = nil // Cleared by a successful run
	if payErr != nil {
		msg := payErr.Error()
		p.LastError = &msg
	}

	if p.Frequency == domain.FrequencyOnce {
		p.NextRun = nil // Never runs again
		p.Status = domain.ScheduleCompleted
		if payErr != nil {
			p.Status = domain.ScheduleFailed
		}
		return
	}
	from := now
	if p.NextRun != nil {
		from = *p.NextRun // Advance from the missed occurrence, not from now
	}
	p.NextRun = NextRun(p.Frequency, p.StartDate, from)
}

func isBusinessError(err error) bool {
	return errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrAccessDenied) ||
		errors.Is(err, domain.ErrInvalidOperation)
}

// Runner triggers the executor on a cron schedule
type Runner struct {
	cron *cron.Cron // Scheduler
	exec *Executor  // Job
	spec string     // Cron expression
}

// NewRunner creates a Runner. Overlapping passes are skipped.
func NewRunner(exec *Executor, spec string) *Runner {
	cronLogger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Runner{cron: c, exec: exec, spec: spec}
}

// Start registers the job and starts the scheduler
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(r.spec, r.runOnce); err != nil {
		return err
	}
	logrus.WithField("schedule", r.spec).Info("Scheduled payment executor started")
	r.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when a running pass finishes
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Runner) runOnce() {
	sum, err := r.exec.RunDue(context.Background(), time.Now())
	if err != nil {
		logrus.WithField("error", err.Error()).Error("Scheduled payment pass failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"due":     sum.Due,     // Selected
		"paid":    sum.Paid,    // Succeeded
		"failed":  sum.Failed,  // Recorded failures
		"skipped": sum.Skipped, // Claimed elsewhere
	}).Info("Scheduled payment pass finished")
}
