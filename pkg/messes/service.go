package messes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/messmate/messmate/pkg/observability"
)

var (
	// ErrMessNotFound is returned when the mess does not exist.
	ErrMessNotFound = errors.New("mess not found")

	// ErrMemberNotFound is returned for operations on a missing member.
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidRequest is returned for payloads that fail validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// Service manages mess accounts and their member rosters.
type Service interface {
	CreateMess(ctx context.Context, req CreateMessRequest) (*Mess, error)
	GetMess(ctx context.Context, messID int64) (*Mess, error)
	ListMesses(ctx context.Context, limit, offset int) ([]*Mess, error)
	UpdateSettings(ctx context.Context, messID int64, req UpdateSettingsRequest) (*Mess, error)
	SetStatus(ctx context.Context, messID int64, status MessStatus) error

	AddMember(ctx context.Context, messID int64, name string) (*Member, error)
	DeactivateMember(ctx context.Context, memberID int64) error
	ListMembers(ctx context.Context, messID int64, activeOnly bool) ([]*Member, error)
	ActiveMemberCount(ctx context.Context, messID int64) (int, error)
}

// PostgresService implements Service using PostgreSQL.
type PostgresService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(db *sql.DB, logger *observability.Logger) *PostgresService {
	return &PostgresService{db: db, logger: logger}
}

const messColumns = `id, name, status, balance, low_balance_threshold, auto_renewal,
	billing_cycle_days, max_leave_days_per_cycle, created_at, updated_at`

// CreateMess registers a new mess with a zero credit balance.
func (s *PostgresService) CreateMess(ctx context.Context, req CreateMessRequest) (*Mess, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidRequest)
	}
	cycleDays := req.BillingCycleDays
	if cycleDays == 0 {
		cycleDays = 30
	}
	if cycleDays < 1 {
		return nil, fmt.Errorf("%w: billing cycle days must be positive", ErrInvalidRequest)
	}
	maxLeave := req.MaxLeaveDaysPerCycle
	if maxLeave == 0 {
		maxLeave = 10
	}
	if maxLeave < 0 {
		return nil, fmt.Errorf("%w: max leave days cannot be negative", ErrInvalidRequest)
	}

	mess := &Mess{
		Name:                 strings.TrimSpace(req.Name),
		Status:               MessStatusActive,
		BillingCycleDays:     cycleDays,
		MaxLeaveDaysPerCycle: maxLeave,
		LowBalanceThreshold:  req.LowBalanceThreshold,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messes (name, status, low_balance_threshold, billing_cycle_days, max_leave_days_per_cycle)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, balance, auto_renewal, created_at, updated_at`,
		mess.Name, mess.Status, mess.LowBalanceThreshold, mess.BillingCycleDays, mess.MaxLeaveDaysPerCycle,
	).Scan(&mess.ID, &mess.Balance, &mess.AutoRenewal, &mess.CreatedAt, &mess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create mess: %w", err)
	}

	s.logger.WithMess(mess.ID).WithField("name", mess.Name).Info("mess registered")
	return mess, nil
}

// GetMess fetches a mess by id.
func (s *PostgresService) GetMess(ctx context.Context, messID int64) (*Mess, error) {
	mess := &Mess{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+messColumns+` FROM messes WHERE id = $1`, messID,
	).Scan(&mess.ID, &mess.Name, &mess.Status, &mess.Balance, &mess.LowBalanceThreshold,
		&mess.AutoRenewal, &mess.BillingCycleDays, &mess.MaxLeaveDaysPerCycle,
		&mess.CreatedAt, &mess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrMessNotFound, messID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mess: %w", err)
	}
	return mess, nil
}

// ListMesses pages through registered messes.
func (s *PostgresService) ListMesses(ctx context.Context, limit, offset int) ([]*Mess, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messColumns+` FROM messes ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messes: %w", err)
	}
	defer rows.Close()

	var messes []*Mess
	for rows.Next() {
		mess := &Mess{}
		if err := rows.Scan(&mess.ID, &mess.Name, &mess.Status, &mess.Balance,
			&mess.LowBalanceThreshold, &mess.AutoRenewal, &mess.BillingCycleDays,
			&mess.MaxLeaveDaysPerCycle, &mess.CreatedAt, &mess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mess: %w", err)
		}
		messes = append(messes, mess)
	}
	return messes, rows.Err()
}

// UpdateSettings applies a partial settings update.
func (s *PostgresService) UpdateSettings(ctx context.Context, messID int64, req UpdateSettingsRequest) (*Mess, error) {
	sets := []string{}
	args := []interface{}{}

	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidRequest)
		}
		add("name", strings.TrimSpace(*req.Name))
	}
	if req.BillingCycleDays != nil {
		if *req.BillingCycleDays < 1 {
			return nil, fmt.Errorf("%w: billing cycle days must be positive", ErrInvalidRequest)
		}
		add("billing_cycle_days", *req.BillingCycleDays)
	}
	if req.MaxLeaveDaysPerCycle != nil {
		if *req.MaxLeaveDaysPerCycle < 0 {
			return nil, fmt.Errorf("%w: max leave days cannot be negative", ErrInvalidRequest)
		}
		add("max_leave_days_per_cycle", *req.MaxLeaveDaysPerCycle)
	}
	if req.LowBalanceThreshold != nil {
		add("low_balance_threshold", *req.LowBalanceThreshold)
	}
	if len(sets) == 0 {
		return s.GetMess(ctx, messID)
	}

	args = append(args, messID)
	query := fmt.Sprintf(`UPDATE messes SET %s, updated_at = NOW() WHERE id = $%d`,
		strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrMessNotFound, messID)
	}
	return s.GetMess(ctx, messID)
}

// SetStatus transitions a mess between active, trial, and suspended.
func (s *PostgresService) SetStatus(ctx context.Context, messID int64, status MessStatus) error {
	switch status {
	case MessStatusActive, MessStatusTrial, MessStatusSuspended:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messes SET status = $1, updated_at = NOW() WHERE id = $2`, status, messID)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", ErrMessNotFound, messID)
	}
	return nil
}

// AddMember adds an active member to the roster.
func (s *PostgresService) AddMember(ctx context.Context, messID int64, name string) (*Member, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: member name required", ErrInvalidRequest)
	}
	member := &Member{MessID: messID, Name: strings.TrimSpace(name), Active: true}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO mess_members (mess_id, name)
		VALUES ($1, $2)
		RETURNING id, joined_at`,
		member.MessID, member.Name,
	).Scan(&member.ID, &member.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return member, nil
}

// DeactivateMember marks a member as departed. The row stays for history.
func (s *PostgresService) DeactivateMember(ctx context.Context, memberID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mess_members SET active = FALSE, left_at = NOW() WHERE id = $1 AND active`, memberID)
	if err != nil {
		return fmt.Errorf("failed to deactivate member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", ErrMemberNotFound, memberID)
	}
	return nil
}

// ListMembers returns the roster of a mess.
func (s *PostgresService) ListMembers(ctx context.Context, messID int64, activeOnly bool) ([]*Member, error) {
	query := `
		SELECT id, mess_id, name, active, joined_at, left_at
		FROM mess_members
		WHERE mess_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, messID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.ID, &m.MessID, &m.Name, &m.Active, &m.JoinedAt, &m.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ActiveMemberCount returns the number of active members. Bill generation
// snapshots this at cycle end.
func (s *PostgresService) ActiveMemberCount(ctx context.Context, messID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mess_members WHERE mess_id = $1 AND active`, messID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active members: %w", err)
	}
	return count, nil
}
