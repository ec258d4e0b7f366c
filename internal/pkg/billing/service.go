package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/app/repository"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/entitlements"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
)

// maxTransitionAttempts bounds how often a lost status race is re-evaluated.
const maxTransitionAttempts = 3

// resumeBatchSize bounds the confirmed sessions ResumeUngranted handles per run.
const resumeBatchSize = 100

// Options configures the checkout service.
type Options struct {
	SessionTTL time.Duration
	SuccessURL string
	FailureURL string
}

// Service runs the card checkout workflow: open → confirmed (→ granted), open → expired,
// open → canceled. Grants go through the entitlement ledger.
type Service struct {
	db       *gorm.DB
	repo     Repository
	ledger   *entitlements.Ledger
	provider PaymentProvider
	retry    RetryQueue
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
}

// NewService creates a checkout service. retry and notifier may be nil.
func NewService(db *gorm.DB, ledger *entitlements.Ledger, provider PaymentProvider, retry RetryQueue, notifier notify.Notifier, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &Service{
		db:       db,
		repo:     NewRepository(db),
		ledger:   ledger,
		provider: provider,
		retry:    retry,
		notifier: notify.OrNop(notifier),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRetryQueue wires the retry queue after construction; the queue handlers need the service.
func (s *Service) SetRetryQueue(q RetryQueue) {
	s.retry = q
}

// CreateSession prices the plan server-side, opens a provider checkout and stores the
// session as open.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*models.CheckoutSession, error) {
	plan, err := entitlements.ParsePaidPlan(in.Plan)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if (in.AccountID == nil || *in.AccountID == 0) && email == "" {
		return nil, apperr.Validation("account id or email is required")
	}

	catalog := s.ledger.Catalog()
	amount, err := catalog.Price(plan)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{}
	if in.AccountID != nil && *in.AccountID != 0 {
		metadata["account_id"] = fmt.Sprintf("%d", *in.AccountID)
	}
	pc, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		Plan:       string(plan),
		Amount:     amount,
		Currency:   catalog.Currency,
		Email:      email,
		SuccessURL: s.opts.SuccessURL,
		FailureURL: s.opts.FailureURL,
		Metadata:   metadata,
	})
	if err != nil {
		log.Errorf("[Checkout] Provider %s failed to create session for plan %s: %v", s.provider.Name(), plan, err)
		return nil, apperr.PaymentProvider(err)
	}

	session := &models.CheckoutSession{
		ID:          pc.ID,
		Provider:    s.provider.Name(),
		Email:       email,
		Plan:        string(plan),
		Amount:      amount,
		Currency:    catalog.Currency,
		Status:      models.SessionStatusOpen,
		RedirectURL: pc.CheckoutURL,
		ExpiresAt:   s.now().Add(s.opts.SessionTTL),
	}
	if in.AccountID != nil && *in.AccountID != 0 {
		id := *in.AccountID
		session.AccountID = &id
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, apperr.Storage("create checkout session", err)
	}

	log.Infof("[Checkout] Opened session %s for plan %s (%d %s)", session.ID, plan, amount, session.Currency)
	return session, nil
}

// GetSession loads a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, apperr.FromDB("load checkout session "+id, err)
	}
	return session, nil
}

// OnConfirmation applies the provider outcome of a checkout. A paid confirmation
// grants the plan exactly once per session, however often it is delivered.
func (s *Service) OnConfirmation(ctx context.Context, ev ConfirmationEvent) (*models.CheckoutSession, error) {
	id := strings.TrimSpace(ev.SessionID)
	if id == "" {
		return nil, apperr.Validation("session id is required")
	}

	session, err := s.confirm(ctx, id, ev)
	if err != nil || session.Status != models.SessionStatusConfirmed || session.IsGranted() {
		return session, err
	}

	session, err = s.CompleteConfirmation(ctx, id)
	if err != nil && (errors.Is(err, ErrAwaitingAccount) || apperr.Retryable(err)) {
		s.scheduleRetry(ctx, id)
	}
	return session, err
}

// confirm performs the status part of OnConfirmation and returns the resulting session.
func (s *Service) confirm(ctx context.Context, id string, ev ConfirmationEvent) (*models.CheckoutSession, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		session, err := s.repo.GetSession(ctx, id)
		if err != nil {
			return nil, apperr.FromDB("load checkout session "+id, err)
		}

		switch session.Status {
		case models.SessionStatusExpired, models.SessionStatusCanceled:
			log.Warnf("[Checkout] Ignoring %s confirmation for %s session %s", ev.Status, session.Status, id)
			return session, apperr.InvalidTransition("checkout session %s is %s", id, session.Status)
		case models.SessionStatusConfirmed:
			if !ev.Paid() {
				log.Warnf("[Checkout] Ignoring %s event for confirmed session %s", ev.Status, id)
				return session, apperr.InvalidTransition("checkout session %s is already confirmed", id)
			}
			return session, nil
		}

		now := s.now()
		var to models.SessionStatus
		var extra map[string]interface{}
		switch {
		case !ev.Paid():
			to = models.SessionStatusCanceled
		case !now.Before(session.ExpiresAt):
			to = models.SessionStatusExpired
		default:
			to = models.SessionStatusConfirmed
			extra = map[string]interface{}{"confirmed_at": now}
		}

		won, err := s.repo.TransitionSession(ctx, id, models.SessionStatusOpen, to, extra)
		if err != nil {
			return nil, apperr.Storage("transition checkout session", err)
		}
		if !won {
			continue
		}

		session.Status = to
		log.Infof("[Checkout] Session %s: open -> %s", id, to)
		switch to {
		case models.SessionStatusExpired:
			return session, apperr.InvalidTransition("checkout session %s expired at %s", id, session.ExpiresAt.Format(time.RFC3339))
		case models.SessionStatusConfirmed:
			session.ConfirmedAt = &now
		}
		return session, nil
	}
	return nil, apperr.Storage("transition checkout session", fmt.Errorf("session %s kept changing", id))
}

// CompleteConfirmation grants the plan of a confirmed session that has not been granted
// yet. It is also the entry point of queued retries.
func (s *Service) CompleteConfirmation(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var session *models.CheckoutSession
	var outcome *entitlements.GrantOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		locked, err := repo.LockSession(ctx, id)
		if err != nil {
			return apperr.FromDB("load checkout session "+id, err)
		}
		session = locked
		if locked.Status != models.SessionStatusConfirmed {
			return apperr.InvalidTransition("checkout session %s is %s", id, locked.Status)
		}
		if locked.IsGranted() {
			return nil
		}

		acc, err := s.resolveAccount(ctx, tx, locked)
		if err != nil {
			return err
		}

		at := s.now()
		if locked.ConfirmedAt != nil {
			at = *locked.ConfirmedAt
		}
		outcome, err = s.ledger.GrantTx(ctx, tx, entitlements.GrantRequest{
			AccountID:      acc.ID,
			Plan:           entitlements.Plan(locked.Plan),
			Source:         entitlements.SourceCheckout,
			IdempotencyKey: "checkout:" + locked.ID,
			At:             at,
		})
		if err != nil {
			return err
		}

		grantedAt := s.now()
		if err := repo.MarkGranted(ctx, id, acc.ID, grantedAt); err != nil {
			return apperr.Storage("mark checkout session granted", err)
		}
		session.AccountID = &acc.ID
		session.GrantedAt = &grantedAt
		session.LastError = ""
		return nil
	})
	if err != nil {
		if !errors.Is(err, apperr.ErrInvalidTransition) && session != nil {
			if recErr := s.repo.RecordAttempt(ctx, id, err.Error()); recErr != nil {
				log.Errorf("[Checkout] Failed to record attempt on %s: %v", id, recErr)
			}
		}
		if errors.Is(err, ErrAwaitingAccount) {
			log.Warnf("[Checkout] Session %s confirmed but no account matches %q yet", id, session.Email)
		}
		return session, err
	}

	if outcome != nil && outcome.Applied {
		s.ledger.Publish(ctx, outcome)
		_ = s.notifier.Notify(ctx, notify.Message{
			Kind:      notify.KindCheckoutConfirmed,
			AccountID: outcome.Record.AccountID,
			Subject:   "Paiement confirmé",
			Body:      fmt.Sprintf("Votre paiement de %d %s pour le plan %s a été confirmé.", session.Amount, session.Currency, session.Plan),
			Data:      map[string]interface{}{"session_id": session.ID, "plan": session.Plan},
		})
		log.Infof("[Checkout] Session %s granted %s to account %d", id, session.Plan, outcome.Record.AccountID)
	}
	return session, nil
}

func (s *Service) resolveAccount(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession) (*models.Account, error) {
	accounts := repository.NewAccountRepository(tx)
	if session.AccountID != nil && *session.AccountID != 0 {
		acc, err := accounts.GetByID(ctx, *session.AccountID)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Storage("load account", err)
		}
	}
	if session.Email != "" {
		acc, err := accounts.GetByEmail(ctx, session.Email)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Storage("load account by email", err)
		}
	}
	return nil, ErrAwaitingAccount
}

func (s *Service) scheduleRetry(ctx context.Context, id string) {
	if s.retry == nil {
		log.Warnf("[Checkout] No retry queue configured, session %s waits for the next delivery", id)
		return
	}
	if err := s.retry.EnqueueConfirmationRetry(ctx, id); err != nil {
		log.Errorf("[Checkout] Failed to enqueue retry for session %s: %v", id, err)
	}
}

// ResumeUngranted retries the grant of confirmed sessions that never received one,
// for example because the buyer registered after paying. It returns how many were granted.
func (s *Service) ResumeUngranted(ctx context.Context) (int, error) {
	pending, err := s.repo.ListUngranted(ctx, resumeBatchSize)
	if err != nil {
		return 0, apperr.Storage("list ungranted checkout sessions", err)
	}
	granted := 0
	for i := range pending {
		id := pending[i].ID
		session, err := s.CompleteConfirmation(ctx, id)
		switch {
		case err == nil && session.IsGranted():
			granted++
		case errors.Is(err, ErrAwaitingAccount):
			log.Debugf("[Checkout] Session %s still awaits an account", id)
		case err != nil:
			log.Errorf("[Checkout] Could not complete session %s: %v", id, err)
		}
	}
	if granted > 0 {
		log.Infof("[Checkout] Granted %d previously confirmed session(s)", granted)
	}
	return granted, nil
}

// Cancel lets the buyer abandon an open session.
func (s *Service) Cancel(ctx context.Context, sessionID string, accountID uint) (*models.CheckoutSession, error) {
	won, err := s.repo.CancelOwnedSession(ctx, sessionID, accountID)
	if err != nil {
		return nil, apperr.Storage("cancel checkout session", err)
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperr.FromDB("load checkout session "+sessionID, err)
	}
	if session.AccountID == nil || *session.AccountID != accountID {
		return nil, apperr.NotFound("checkout session %s", sessionID)
	}
	if !won {
		return session, apperr.InvalidTransition("checkout session %s is %s", sessionID, session.Status)
	}
	log.Infof("[Checkout] Session %s canceled by account %d", sessionID, accountID)
	return session, nil
}

// ExpireStale moves every elapsed open session to expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireStaleSessions(ctx, s.now())
	if err != nil {
		return 0, apperr.Storage("expire checkout sessions", err)
	}
	if n > 0 {
		log.Infof("[Checkout] Expired %d stale session(s)", n)
	}
	return int(n), nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.PaymentWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		SessionID:       strings.TrimSpace(in.SessionID),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

// HandleWebhook verifies, deduplicates and applies one provider delivery. A returned
// error means the provider should redeliver.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	valid := s.provider.VerifySignature(payload, signature)
	parsed, parseErr := s.provider.ParseWebhook(payload)

	in := WebhookEventInput{
		Provider:       s.provider.Name(),
		PayloadJSON:    string(payload),
		SignatureValid: valid,
	}
	if parsed != nil {
		in.ProviderEventID = parsed.EventID
		in.EventType = parsed.Type
		in.SessionID = parsed.SessionID
	}
	created, event, err := s.RecordWebhookEvent(ctx, in)
	if err != nil {
		return nil, apperr.Storage("record webhook event", err)
	}
	result := &WebhookResult{EventID: event.ProviderEventID}

	if !created && event.IsProcessed() {
		result.Status = WebhookDuplicate
		return result, nil
	}
	if !created && valid && !event.SignatureValid {
		// The first delivery under this id failed verification; keep the genuine payload.
		event.PayloadJSON = in.PayloadJSON
		event.EventType = in.EventType
		event.SessionID = in.SessionID
		event.SignatureValid = true
		if err := s.repo.ReplaceWebhookPayload(ctx, event); err != nil {
			return nil, apperr.Storage("update webhook event", err)
		}
	}
	if !valid {
		s.markProcessed(ctx, event.ID, ErrInvalidSignature)
		log.Warnf("[Checkout] Rejected webhook %s: invalid signature", event.ProviderEventID)
		return nil, ErrInvalidSignature
	}
	if parseErr != nil {
		s.markProcessed(ctx, event.ID, parseErr)
		return nil, apperr.Validation("unreadable webhook payload: %v", parseErr)
	}
	if !parsed.IsTerminal() {
		s.markProcessed(ctx, event.ID, nil)
		result.Status = WebhookIgnored
		return result, nil
	}

	_, err = s.OnConfirmation(ctx, ConfirmationEvent{SessionID: parsed.SessionID, Status: parsed.Status})
	switch {
	case err == nil:
		s.markProcessed(ctx, event.ID, nil)
		result.Status = WebhookProcessed
	case errors.Is(err, ErrAwaitingAccount):
		// Left with an error so a redelivery grants once the account exists.
		s.markProcessed(ctx, event.ID, err)
		result.Status = WebhookAccepted
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrNotFound):
		s.markProcessed(ctx, event.ID, err)
		result.Status = WebhookIgnored
	default:
		s.markProcessed(ctx, event.ID, err)
		return nil, err
	}
	return result, nil
}

func (s *Service) markProcessed(ctx context.Context, id uint, processingErr error) {
	if err := s.MarkWebhookProcessed(ctx, id, processingErr); err != nil {
		log.Errorf("[Checkout] Failed to mark webhook event %d processed: %v", id, err)
	}
}
