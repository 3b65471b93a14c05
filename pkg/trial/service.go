package trial

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/observability"
)

var (
	// ErrTrialAlreadyUsed is returned when the mess has consumed its one
	// trial, whether it is still running or long expired.
	ErrTrialAlreadyUsed = errors.New("trial already used")

	// ErrMessNotFound is returned when the mess does not exist.
	ErrMessNotFound = errors.New("mess not found")
)

// Eligibility is the result of a trial eligibility check.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// Record is a consumed trial. One per mess, ever.
type Record struct {
	ID          int64     `json:"id"`
	MessID      int64     `json:"mess_id"`
	Credits     int64     `json:"credits"`
	ActivatedAt time.Time `json:"activated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service manages the one-shot free trial.
type Service interface {
	CheckEligibility(ctx context.Context, messID int64) (*Eligibility, error)
	Activate(ctx context.Context, messID int64) (*Record, error)
}

// PostgresService implements Service. The trial_records unique constraint
// on mess_id is what makes check-and-activate atomic under races; the
// eligibility check is advisory.
type PostgresService struct {
	db      *sql.DB
	ledger  ledger.Service
	logger  *observability.Logger
	credits int64
	days    int
}

// NewPostgresService creates a new PostgresService. credits and days come
// from configuration.
func NewPostgresService(db *sql.DB, ledgerSvc ledger.Service, logger *observability.Logger, credits int64, days int) *PostgresService {
	return &PostgresService{db: db, ledger: ledgerSvc, logger: logger, credits: credits, days: days}
}

// CheckEligibility reports whether the mess can still activate its trial.
func (s *PostgresService) CheckEligibility(ctx context.Context, messID int64) (*Eligibility, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messes WHERE id = $1)`, messID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check mess: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: id %d", ErrMessNotFound, messID)
	}

	var used bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM trial_records WHERE mess_id = $1)`, messID).Scan(&used)
	if err != nil {
		return nil, fmt.Errorf("failed to check trial record: %w", err)
	}
	if used {
		return &Eligibility{Eligible: false, Reason: "trial already used"}, nil
	}
	return &Eligibility{Eligible: true}, nil
}

// Activate consumes the mess's trial: inserts the trial record, grants the
// configured credits through the ledger, and moves the account to trial
// status. The record insert uses ON CONFLICT DO NOTHING so a losing racer
// sees ErrTrialAlreadyUsed instead of a second grant. The conflict branch
// still re-issues the grant under the record's idempotency key before
// failing, so a retry after a crash between insert and grant cannot leave
// the trial consumed without its credits.
func (s *PostgresService) Activate(ctx context.Context, messID int64) (*Record, error) {
	rec := &Record{MessID: messID, Credits: s.credits}
	expires := time.Now().AddDate(0, 0, s.days)

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO trial_records (mess_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (mess_id) DO NOTHING
		RETURNING id, activated_at, expires_at`,
		messID, expires,
	).Scan(&rec.ID, &rec.ActivatedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		var existingID int64
		if ferr := s.db.QueryRowContext(ctx,
			`SELECT id FROM trial_records WHERE mess_id = $1`, messID,
		).Scan(&existingID); ferr != nil {
			return nil, fmt.Errorf("failed to load existing trial record: %w", ferr)
		}
		if _, ferr := s.ledger.Post(ctx, ledger.PostRequest{
			MessID:      messID,
			Delta:       s.credits,
			Reason:      ledger.ReasonTrialGrant,
			ReferenceID: fmt.Sprintf("trial-%d", existingID),
			Note:        "free trial grant",
		}); ferr != nil {
			return nil, fmt.Errorf("failed to grant trial credits: %w", ferr)
		}
		return nil, fmt.Errorf("%w: mess %d", ErrTrialAlreadyUsed, messID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert trial record: %w", err)
	}

	_, err = s.ledger.Post(ctx, ledger.PostRequest{
		MessID:      messID,
		Delta:       s.credits,
		Reason:      ledger.ReasonTrialGrant,
		ReferenceID: fmt.Sprintf("trial-%d", rec.ID),
		Note:        "free trial grant",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grant trial credits: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE messes SET status = 'trial', updated_at = NOW() WHERE id = $1`, messID); err != nil {
		return nil, fmt.Errorf("failed to mark account as trial: %w", err)
	}

	s.logger.WithMess(messID).WithFields(map[string]interface{}{
		"trial_id": rec.ID,
		"credits":  s.credits,
		"expires":  rec.ExpiresAt,
	}).Info("trial activated")
	return rec, nil
}
