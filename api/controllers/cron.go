package controllers

import (
	"context"
	"net/http"

	"github.com/PASLLC7291/high-end-auction-sub002/api/responses"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/recovery"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

type cronTrigger interface {
	Trigger(ctx context.Context) (bool, error)
}

type recoveryReports interface {
	LastReport() *recovery.Report
}

type cronRecoveryResponse struct {
	Skipped bool             `json:"skipped"`
	Report  *recovery.Report `json:"report,omitempty"`
}

// CronRecovery runs one recovery cycle under the shared cron lock. A held
// lock is not an error; the caller just gets skipped=true. The cycle runs on
// a context detached from the request, so a caller hanging up does not stop
// it between steps.
func CronRecovery(trigger cronTrigger, reports recoveryReports, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if trigger == nil || reports == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery trigger not configured"))
			return
		}

		ran, err := trigger.Trigger(context.WithoutCancel(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "run recovery cycle"))
			return
		}

		resp := cronRecoveryResponse{Skipped: !ran}
		if ran {
			resp.Report = reports.LastReport()
		}
		responses.WriteSuccess(w, resp)
	}
}
