package api

import (
	"context"
	"fmt"
	"time"

	"github.com/messmate/messmate/pkg/audit"
	"github.com/messmate/messmate/pkg/billing"
	"github.com/messmate/messmate/pkg/catalog"
	"github.com/messmate/messmate/pkg/leave"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/payments"
	"github.com/messmate/messmate/pkg/pricing"
	"github.com/messmate/messmate/pkg/trial"
)

type fakeLedger struct {
	balance     int64
	balanceErr  error
	adjustments []int64
	history     []*ledger.Transaction
}

func (f *fakeLedger) Post(ctx context.Context, req ledger.PostRequest) (*ledger.Transaction, error) {
	return &ledger.Transaction{ID: 1, MessID: req.MessID, Delta: req.Delta}, nil
}
func (f *fakeLedger) Balance(ctx context.Context, messID int64) (int64, error) {
	return f.balance, f.balanceErr
}
func (f *fakeLedger) Account(ctx context.Context, messID int64) (*ledger.Account, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &ledger.Account{MessID: messID, Balance: f.balance}, nil
}
func (f *fakeLedger) History(ctx context.Context, messID int64, filter ledger.HistoryFilter) ([]*ledger.Transaction, error) {
	return f.history, nil
}
func (f *fakeLedger) AdjustCredits(ctx context.Context, messID, delta int64, referenceID, note string) (*ledger.Transaction, error) {
	f.adjustments = append(f.adjustments, delta)
	return &ledger.Transaction{ID: 9, MessID: messID, Delta: delta, Reason: ledger.ReasonAdjustment}, nil
}
func (f *fakeLedger) VerifyBalance(ctx context.Context, messID int64) (*ledger.BalanceCheck, error) {
	return &ledger.BalanceCheck{MessID: messID, StoredBalance: f.balance, LedgerSum: f.balance, Consistent: true}, nil
}

type fakeBilling struct {
	bill    *billing.Bill
	preview *billing.Preview
	err     error
	waived  []int64
}

func (f *fakeBilling) Generate(ctx context.Context, messID int64, window billing.CycleWindow) (*billing.Bill, error) {
	return f.bill, f.err
}
func (f *fakeBilling) RetryDebit(ctx context.Context, billID int64) (*billing.Bill, error) {
	return f.bill, f.err
}
func (f *fakeBilling) MarkOverdue(ctx context.Context, now time.Time) (int64, error) { return 0, nil }
func (f *fakeBilling) Waive(ctx context.Context, billID int64, reason string) (*billing.Bill, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.waived = append(f.waived, billID)
	return f.bill, nil
}
func (f *fakeBilling) SetAutoRenewal(ctx context.Context, messID int64, enabled bool) error {
	return f.err
}
func (f *fakeBilling) Preview(ctx context.Context, messID int64, window billing.CycleWindow) (*billing.Preview, error) {
	return f.preview, f.err
}
func (f *fakeBilling) GetBill(ctx context.Context, billID int64) (*billing.Bill, error) {
	return f.bill, f.err
}
func (f *fakeBilling) History(ctx context.Context, messID int64, limit int) ([]*billing.Bill, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*billing.Bill{f.bill}, nil
}
func (f *fakeBilling) GenerateDue(ctx context.Context, now time.Time) (int, error) { return 0, nil }

type fakePayments struct {
	order        *payments.Order
	verification *payments.Verification
	err          error
}

func (f *fakePayments) CreateOrder(ctx context.Context, messID, planID int64) (*payments.Order, error) {
	return f.order, f.err
}
func (f *fakePayments) GetOrder(ctx context.Context, orderID string) (*payments.Order, error) {
	return f.order, f.err
}
func (f *fakePayments) VerifyWebhook(ctx context.Context, event payments.WebhookEvent) (*payments.Verification, error) {
	return f.verification, f.err
}
func (f *fakePayments) SubmitProof(ctx context.Context, orderID, gatewayTxnID string, proof payments.ProofUpload) (*payments.Verification, error) {
	return f.verification, f.err
}
func (f *fakePayments) ApproveProof(ctx context.Context, verificationID int64, reviewer string) (*payments.Verification, error) {
	return f.verification, f.err
}
func (f *fakePayments) RejectProof(ctx context.Context, verificationID int64, reviewer, reason string) (*payments.Verification, error) {
	return f.verification, f.err
}
func (f *fakePayments) ExpireOrders(ctx context.Context, now time.Time) (int64, error) {
	return 0, f.err
}

type fakeCatalog struct {
	plans []*catalog.Plan
	err   error
}

func (f *fakeCatalog) ListActivePlans(ctx context.Context) ([]*catalog.Plan, error) {
	return f.plans, f.err
}
func (f *fakeCatalog) ResolvePlan(ctx context.Context, planID int64) (*catalog.Plan, error) {
	for _, p := range f.plans {
		if p.ID == planID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", catalog.ErrPlanNotFound, planID)
}
func (f *fakeCatalog) CreatePlan(ctx context.Context, req catalog.PlanRequest) (*catalog.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &catalog.Plan{ID: 1, Name: req.Name, Credits: req.Credits}, nil
}
func (f *fakeCatalog) UpdatePlan(ctx context.Context, planID int64, req catalog.PlanRequest) (*catalog.Plan, error) {
	return &catalog.Plan{ID: planID, Name: req.Name}, f.err
}
func (f *fakeCatalog) DeactivatePlan(ctx context.Context, planID int64) error { return f.err }

type fakeTrial struct {
	eligibility *trial.Eligibility
	record      *trial.Record
	err         error
}

func (f *fakeTrial) CheckEligibility(ctx context.Context, messID int64) (*trial.Eligibility, error) {
	return f.eligibility, f.err
}
func (f *fakeTrial) Activate(ctx context.Context, messID int64) (*trial.Record, error) {
	return f.record, f.err
}

type fakeMesses struct {
	mess    *messes.Mess
	members int
	err     error
}

func (f *fakeMesses) CreateMess(ctx context.Context, req messes.CreateMessRequest) (*messes.Mess, error) {
	return f.mess, f.err
}
func (f *fakeMesses) GetMess(ctx context.Context, messID int64) (*messes.Mess, error) {
	return f.mess, f.err
}
func (f *fakeMesses) ListMesses(ctx context.Context, limit, offset int) ([]*messes.Mess, error) {
	return []*messes.Mess{f.mess}, f.err
}
func (f *fakeMesses) UpdateSettings(ctx context.Context, messID int64, req messes.UpdateSettingsRequest) (*messes.Mess, error) {
	return f.mess, f.err
}
func (f *fakeMesses) SetStatus(ctx context.Context, messID int64, status messes.MessStatus) error {
	return f.err
}
func (f *fakeMesses) AddMember(ctx context.Context, messID int64, name string) (*messes.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &messes.Member{ID: 1, MessID: messID, Name: name, Active: true}, nil
}
func (f *fakeMesses) DeactivateMember(ctx context.Context, memberID int64) error { return f.err }
func (f *fakeMesses) ListMembers(ctx context.Context, messID int64, activeOnly bool) ([]*messes.Member, error) {
	return nil, f.err
}
func (f *fakeMesses) ActiveMemberCount(ctx context.Context, messID int64) (int, error) {
	return f.members, f.err
}

type fakePricing struct {
	cost  int64
	slabs []pricing.Slab
	err   error
}

func (f *fakePricing) ResolveCost(ctx context.Context, activeUsers int) (int64, error) {
	return f.cost, f.err
}
func (f *fakePricing) ListSlabs(ctx context.Context) ([]pricing.Slab, error) {
	return f.slabs, f.err
}
func (f *fakePricing) CreateSlab(ctx context.Context, req pricing.SlabRequest) (*pricing.Slab, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pricing.Slab{ID: 1, MinUsers: req.MinUsers, MaxUsers: req.MaxUsers, CycleCost: req.CycleCost}, nil
}
func (f *fakePricing) UpdateSlab(ctx context.Context, id int64, req pricing.SlabRequest) (*pricing.Slab, error) {
	return &pricing.Slab{ID: id}, f.err
}
func (f *fakePricing) DeleteSlab(ctx context.Context, id int64) error { return f.err }

type fakeLeave struct {
	adjustment *leave.Adjustment
	txn        *ledger.Transaction
	err        error
}

func (f *fakeLeave) Record(ctx context.Context, adj *leave.Adjustment) (*leave.Adjustment, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *adj
	out.ID = 1
	return &out, nil
}
func (f *fakeLeave) Get(ctx context.Context, adjustmentID int64) (*leave.Adjustment, error) {
	return f.adjustment, f.err
}
func (f *fakeLeave) ListUnapplied(ctx context.Context, messID int64) ([]*leave.Adjustment, error) {
	return nil, f.err
}
func (f *fakeLeave) Apply(ctx context.Context, adjustmentID int64) (*ledger.Transaction, error) {
	return f.txn, f.err
}

type fakeAuditor struct {
	events []audit.Event
}

func (f *fakeAuditor) Record(ctx context.Context, event audit.Event) {
	f.events = append(f.events, event)
}
func (f *fakeAuditor) RecordSync(ctx context.Context, event audit.Event) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeAuditor) Query(ctx context.Context, filter audit.Filter) ([]*audit.Event, error) {
	out := make([]*audit.Event, 0, len(f.events))
	for i := range f.events {
		out = append(out, &f.events[i])
	}
	return out, nil
}
