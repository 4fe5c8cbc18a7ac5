package onboarding

import (
	"fmt"
	"strings"

	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

// Next steps reported to clients.
const (
	StepCreateAdmin  = "create_admin"
	StepCreateTenant = "create_tenant"
	StepBilling      = "billing"
	StepAwaitPayment = "await_payment"
	StepDone         = "done"
	StepRestart      = "restart"
)

// NextStep names the operation a client should call for a session in state.
func NextStep(state registry.SessionState) string {
	switch state {
	case registry.SessionStateStarted:
		return StepCreateAdmin
	case registry.SessionStateUserCreated:
		return StepCreateTenant
	case registry.SessionStateTenantCreated:
		return StepBilling
	case registry.SessionStateBillingStarted, registry.SessionStateBillingComplete:
		return StepAwaitPayment
	case registry.SessionStateCompleted:
		return StepDone
	default:
		return StepRestart
	}
}

func beforeBilling(state registry.SessionState) bool {
	switch state {
	case registry.SessionStateStarted, registry.SessionStateUserCreated, registry.SessionStateTenantCreated:
		return true
	}
	return false
}

// requireState fails unless s is in one of allowed. Completed and expired
// sessions get their own errors so clients can redirect.
func requireState(op string, s *registry.SignupSession, allowed ...registry.SessionState) error {
	for _, st := range allowed {
		if s.State == st {
			return nil
		}
	}
	switch s.State {
	case registry.SessionStateCompleted:
		return newError(ErrorTypePrecondition, op, s.ID, ErrSessionCompleted)
	case registry.SessionStateExpired:
		return newError(ErrorTypePrecondition, op, s.ID, ErrSessionExpired)
	}
	names := make([]string, len(allowed))
	for i, st := range allowed {
		names[i] = string(st)
	}
	return newError(ErrorTypePrecondition, op, s.ID,
		fmt.Errorf("%w: session is %s, want %s", ErrInvalidState, s.State, strings.Join(names, " or ")))
}
