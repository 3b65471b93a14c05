package payments

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/catalog"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/observability"
)

// ProofStore is the blob store for manual payment proofs.
type ProofStore interface {
	PutProof(ctx context.Context, orderID string, content io.Reader, contentType string) (string, error)
	GetProof(ctx context.Context, key string) (io.ReadCloser, error)
}

// Service is the only path that credits the ledger from external money
// movement.
type Service interface {
	CreateOrder(ctx context.Context, messID, planID int64) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	VerifyWebhook(ctx context.Context, event WebhookEvent) (*Verification, error)
	SubmitProof(ctx context.Context, orderID, gatewayTxnID string, proof ProofUpload) (*Verification, error)
	ApproveProof(ctx context.Context, verificationID int64, reviewer string) (*Verification, error)
	RejectProof(ctx context.Context, verificationID int64, reviewer, reason string) (*Verification, error)
	ExpireOrders(ctx context.Context, now time.Time) (int64, error)
}

// PostgresService implements Service using PostgreSQL, the ledger, the
// purchase catalog, and an S3-compatible proof store.
type PostgresService struct {
	db      *sql.DB
	ledger  ledger.Service
	catalog catalog.Service
	proofs  ProofStore
	auditor audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics

	webhookSecret string
	orderExpiry   time.Duration
}

// NewPostgresService creates a new PostgresService. orderExpiry is the
// window in which a created order can still be verified.
func NewPostgresService(db *sql.DB, ledgerSvc ledger.Service, catalogSvc catalog.Service,
	proofs ProofStore, auditor audit.Logger, logger *observability.Logger,
	metrics *observability.Metrics, webhookSecret string, orderExpiry time.Duration) *PostgresService {
	if orderExpiry <= 0 {
		orderExpiry = 30 * time.Minute
	}
	return &PostgresService{
		db:            db,
		ledger:        ledgerSvc,
		catalog:       catalogSvc,
		proofs:        proofs,
		auditor:       auditor,
		logger:        logger,
		metrics:       metrics,
		webhookSecret: webhookSecret,
		orderExpiry:   orderExpiry,
	}
}

const orderColumns = `id, mess_id, plan_id, requested_credits, amount_cents, currency,
	gateway_ref, status, expires_at, created_at, updated_at`

// CreateOrder opens a payment order for a plan. The plan's credits and
// price are snapshotted onto the order.
func (s *PostgresService) CreateOrder(ctx context.Context, messID, planID int64) (*Order, error) {
	plan, err := s.catalog.ResolvePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:               uuid.NewString(),
		MessID:           messID,
		PlanID:           plan.ID,
		RequestedCredits: plan.TotalCredits(),
		AmountCents:      plan.PriceCents,
		Currency:         plan.Currency,
		Status:           OrderStatusCreated,
		ExpiresAt:        time.Now().Add(s.orderExpiry),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO payment_orders
			(id, mess_id, plan_id, requested_credits, amount_cents, currency, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		order.ID, order.MessID, order.PlanID, order.RequestedCredits,
		order.AmountCents, order.Currency, order.Status, order.ExpiresAt,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.OrdersCreatedTotal.Inc()
	}
	s.logger.WithMess(messID).WithFields(map[string]interface{}{
		"order_id": order.ID,
		"plan_id":  planID,
		"credits":  order.RequestedCredits,
	}).Info("payment order created")
	return order, nil
}

// GetOrder fetches an order by id.
func (s *PostgresService) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.getOrder(ctx, s.db, orderID)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *PostgresService) getOrder(ctx context.Context, q rowQueryer, orderID string) (*Order, error) {
	order := &Order{}
	var gatewayRef sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, orderID,
	).Scan(&order.ID, &order.MessID, &order.PlanID, &order.RequestedCredits,
		&order.AmountCents, &order.Currency, &gatewayRef, &order.Status,
		&order.ExpiresAt, &order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order.GatewayRef = gatewayRef.String
	return order, nil
}

// VerifyWebhook processes a gateway notification. The signature check runs
// before anything else; a mismatch has no side effects beyond the audit
// record. Verification is idempotent on the gateway transaction id, so
// duplicate deliveries return the stored result without re-crediting.
func (s *PostgresService) VerifyWebhook(ctx context.Context, event WebhookEvent) (*Verification, error) {
	if !verifySignature(s.webhookSecret, event) {
		if s.metrics != nil {
			s.metrics.SignatureMismatchesTotal.Inc()
		}
		s.auditor.Record(ctx, audit.Event{
			Type:       audit.EventTypeSignatureMismatch,
			ResourceID: event.OrderID,
			Status:     audit.EventStatusDenied,
			Message:    "webhook signature mismatch",
			Details:    map[string]interface{}{"gateway_txn_id": event.GatewayTxnID},
		})
		s.logger.WithField("order_id", event.OrderID).Warn("webhook signature mismatch")
		return nil, ErrSignatureMismatch
	}

	order, err := s.GetOrder(ctx, event.OrderID)
	if err != nil {
		return nil, err
	}

	if order.Status == OrderStatusCreated && time.Now().After(order.ExpiresAt) {
		// Lapsed but not yet swept by the expiry job. Expire it here so
		// the webhook cannot credit an order past its window.
		if _, err := s.db.ExecContext(ctx, `
			UPDATE payment_orders SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = 'created'`,
			OrderStatusExpired, order.ID); err != nil {
			return nil, fmt.Errorf("failed to expire order: %w", err)
		}
		order.Status = OrderStatusExpired
	}

	switch order.Status {
	case OrderStatusExpired:
		s.auditor.Record(ctx, audit.Event{
			Type:       audit.EventTypeLateWebhook,
			MessID:     &order.MessID,
			ResourceID: order.ID,
			Status:     audit.EventStatusDenied,
			Message:    "webhook for expired order rejected",
			Details:    map[string]interface{}{"gateway_txn_id": event.GatewayTxnID},
		})
		s.logger.WithMess(order.MessID).WithField("order_id", order.ID).Warn("late webhook for expired order")
		return nil, fmt.Errorf("%w: order %s", ErrOrderExpired, order.ID)
	case OrderStatusFailed:
		return nil, fmt.Errorf("%w: order %s is failed", ErrOrderClosed, order.ID)
	}

	if event.Status != "success" {
		// Gateway-reported failure: the order closes, the ledger is
		// untouched.
		if _, err := s.db.ExecContext(ctx, `
			UPDATE payment_orders SET status = $1, gateway_ref = $2, updated_at = NOW()
			WHERE id = $3 AND status = 'created'`,
			OrderStatusFailed, event.GatewayTxnID, order.ID); err != nil {
			return nil, fmt.Errorf("failed to mark order failed: %w", err)
		}
		if s.metrics != nil {
			s.metrics.VerificationsTotal.WithLabelValues(string(MethodWebhook), "failed").Inc()
		}
		verification, err := s.insertVerification(ctx, &Verification{
			OrderID:       order.ID,
			GatewayTxnID:  event.GatewayTxnID,
			Method:        MethodWebhook,
			Status:        VerificationFailed,
			FailureReason: event.FailureReason,
		})
		if err != nil {
			return nil, err
		}
		return verification, nil
	}

	verification, err := s.settle(ctx, order, &Verification{
		OrderID:      order.ID,
		GatewayTxnID: event.GatewayTxnID,
		Method:       MethodWebhook,
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		result := "verified"
		if verification.Duplicate {
			result = "duplicate"
		}
		s.metrics.VerificationsTotal.WithLabelValues(string(MethodWebhook), result).Inc()
	}
	return verification, nil
}

// insertVerification writes a verification row, absorbing the unique
// gateway txn id. Returns the stored row with Duplicate set when the txn
// id was already processed.
func (s *PostgresService) insertVerification(ctx context.Context, v *Verification) (*Verification, error) {
	now := time.Now()
	var verifiedAt *time.Time
	if v.Status == VerificationVerified {
		verifiedAt = &now
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payment_verifications
			(order_id, gateway_txn_id, method, status, proof_key, reviewed_by, failure_reason, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (gateway_txn_id) DO NOTHING
		RETURNING id, created_at`,
		v.OrderID, v.GatewayTxnID, v.Method, v.Status,
		nullIfEmpty(v.ProofKey), nullIfEmpty(v.ReviewedBy), nullIfEmpty(v.FailureReason), verifiedAt,
	).Scan(&v.ID, &v.CreatedAt)
	if err == sql.ErrNoRows {
		existing, ferr := s.verificationByTxnID(ctx, v.GatewayTxnID)
		if ferr != nil {
			return nil, ferr
		}
		existing.Duplicate = true
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert verification: %w", err)
	}
	v.VerifiedAt = verifiedAt
	return v, nil
}

const verificationColumns = `id, order_id, gateway_txn_id, method, status,
	proof_key, reviewed_by, failure_reason, verified_at, created_at`

func (s *PostgresService) verificationByTxnID(ctx context.Context, gatewayTxnID string) (*Verification, error) {
	return s.scanVerification(s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM payment_verifications WHERE gateway_txn_id = $1`,
		gatewayTxnID))
}

// GetVerification fetches a verification by id.
func (s *PostgresService) GetVerification(ctx context.Context, verificationID int64) (*Verification, error) {
	v, err := s.scanVerification(s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM payment_verifications WHERE id = $1`,
		verificationID))
	if err == errNoVerification {
		return nil, fmt.Errorf("%w: id %d", ErrVerificationNotFound, verificationID)
	}
	return v, err
}

var errNoVerification = fmt.Errorf("no verification row")

func (s *PostgresService) scanVerification(row *sql.Row) (*Verification, error) {
	v := &Verification{}
	var proofKey, reviewedBy, failureReason sql.NullString
	err := row.Scan(&v.ID, &v.OrderID, &v.GatewayTxnID, &v.Method, &v.Status,
		&proofKey, &reviewedBy, &failureReason, &v.VerifiedAt, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errNoVerification
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan verification: %w", err)
	}
	v.ProofKey = proofKey.String
	v.ReviewedBy = reviewedBy.String
	v.FailureReason = failureReason.String
	return v, nil
}

// settle records the verification and posts the purchase credit. The
// verification insert is the idempotency gate for non-verified duplicates;
// a verified duplicate still re-issues the ledger post, because the retry
// may follow a crash between the insert and the credit. The ledger's own
// key absorbs the re-post when the credit already landed.
func (s *PostgresService) settle(ctx context.Context, order *Order, v *Verification) (*Verification, error) {
	v.Status = VerificationVerified
	verification, err := s.insertVerification(ctx, v)
	if err != nil {
		return nil, err
	}
	if verification.Duplicate && verification.Status != VerificationVerified {
		s.logger.WithMess(order.MessID).WithField("gateway_txn_id", v.GatewayTxnID).
			Info("duplicate verification absorbed")
		return verification, nil
	}

	if _, err := s.ledger.Post(ctx, ledger.PostRequest{
		MessID:      order.MessID,
		Delta:       order.RequestedCredits,
		Reason:      ledger.ReasonPurchase,
		ReferenceID: v.GatewayTxnID,
		Note:        fmt.Sprintf("order %s", order.ID),
	}); err != nil {
		return nil, fmt.Errorf("failed to credit purchase: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE payment_orders SET status = $1, gateway_ref = $2, updated_at = NOW()
		WHERE id = $3`,
		OrderStatusVerified, v.GatewayTxnID, order.ID); err != nil {
		return nil, fmt.Errorf("failed to mark order verified: %w", err)
	}

	s.logger.WithMess(order.MessID).WithFields(map[string]interface{}{
		"order_id":       order.ID,
		"gateway_txn_id": v.GatewayTxnID,
		"credits":        order.RequestedCredits,
		"method":         string(v.Method),
	}).Info("payment verified, credits posted")
	return verification, nil
}

// ExpireOrders transitions created orders past their expiry window to
// expired. An expired order can never later be verified.
func (s *PostgresService) ExpireOrders(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_orders SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at < $3`,
		OrderStatusExpired, OrderStatusCreated, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire orders: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if s.metrics != nil {
			s.metrics.OrdersExpiredTotal.Add(float64(n))
		}
		s.logger.WithField("count", n).Info("payment orders expired")
	}
	return n, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
