package api

import (
	"errors"
	"net/http"

	"github.com/messmate/messmate/pkg/billing"
	"github.com/messmate/messmate/pkg/catalog"
	"github.com/messmate/messmate/pkg/httputil"
	"github.com/messmate/messmate/pkg/leave"
	"github.com/messmate/messmate/pkg/ledger"
	"github.com/messmate/messmate/pkg/messes"
	"github.com/messmate/messmate/pkg/payments"
	"github.com/messmate/messmate/pkg/pricing"
	"github.com/messmate/messmate/pkg/trial"
)

// writeServiceError translates domain sentinel errors into HTTP status
// codes. Anything unrecognized is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, messes.ErrMessNotFound),
		errors.Is(err, messes.ErrMemberNotFound),
		errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, pricing.ErrSlabNotFound),
		errors.Is(err, billing.ErrBillNotFound),
		errors.Is(err, leave.ErrAdjustmentNotFound),
		errors.Is(err, payments.ErrOrderNotFound),
		errors.Is(err, payments.ErrVerificationNotFound),
		errors.Is(err, trial.ErrMessNotFound):
		httputil.WriteError(w, http.StatusNotFound, err)

	case errors.Is(err, ledger.ErrInsufficientCredits):
		httputil.WriteError(w, http.StatusPaymentRequired, err)

	case errors.Is(err, trial.ErrTrialAlreadyUsed),
		errors.Is(err, billing.ErrBillNotPayable),
		errors.Is(err, leave.ErrAlreadyApplied),
		errors.Is(err, payments.ErrOrderClosed),
		errors.Is(err, payments.ErrNotReviewable):
		httputil.WriteError(w, http.StatusConflict, err)

	case errors.Is(err, payments.ErrOrderExpired):
		httputil.WriteError(w, http.StatusGone, err)

	case errors.Is(err, payments.ErrSignatureMismatch):
		httputil.WriteError(w, http.StatusUnauthorized, err)

	case errors.Is(err, ledger.ErrInvalidReason),
		errors.Is(err, ledger.ErrEmptyReference),
		errors.Is(err, pricing.ErrInvalidSlabs),
		errors.Is(err, pricing.ErrNoSlabMatch),
		errors.Is(err, catalog.ErrInvalidPlan),
		errors.Is(err, messes.ErrInvalidRequest),
		errors.Is(err, billing.ErrInvalidWindow),
		errors.Is(err, leave.ErrInvalidRange),
		errors.Is(err, leave.ErrInvalidLeaveState):
		httputil.WriteError(w, http.StatusBadRequest, err)

	default:
		httputil.WriteInternalError(w, err)
	}
}
