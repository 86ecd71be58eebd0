package engine

import "liahona/internal/domain"

// Op names a task operation in the transition table.
type Op string

const (
	OpCreate                  Op = "create"
	OpAccept                  Op = "accept"
	OpAction                  Op = "action"
	OpSubmit                  Op = "submit"
	OpConfirmApproved         Op = "confirm_approved"
	OpConfirmChangesRequested Op = "confirm_changes_requested"
	OpSeal                    Op = "seal"
	OpSLAExtend               Op = "sla.extend"
	OpSLAExpire               Op = "sla.expire"

	OpCheckout      Op = "action.checkout"
	OpSessionUpdate Op = "action.update"
	OpHeartbeat     Op = "action.heartbeat"
)

type transition struct {
	from    []domain.Status
	// to is empty when the operation leaves the status unchanged.
	to      domain.Status
	// onPhase checks from against the SLA phase instead of the status.
	onPhase bool
}

var transitions = map[Op]transition{
	OpAccept:                  {from: []domain.Status{domain.StatusActivity, domain.StatusAccepted}, to: domain.StatusAccepted},
	OpAction:                  {from: []domain.Status{domain.StatusAccepted, domain.StatusAction}, to: domain.StatusAction},
	OpSubmit:                  {from: []domain.Status{domain.StatusAction, domain.StatusAccepted, domain.StatusSubmitted}, to: domain.StatusSubmitted},
	OpConfirmApproved:         {from: []domain.Status{domain.StatusSubmitted, domain.StatusConfirmed, domain.StatusAccepted}, to: domain.StatusConfirmed},
	OpConfirmChangesRequested: {from: []domain.Status{domain.StatusSubmitted, domain.StatusConfirmed, domain.StatusAccepted}, to: domain.StatusAccepted},
	OpSeal:                    {from: []domain.Status{domain.StatusConfirmed, domain.StatusSealed}, to: domain.StatusSealed},
	OpSLAExtend:               {from: []domain.Status{domain.StatusAccepted, domain.StatusSubmitted}, onPhase: true},
	OpSLAExpire:               {from: []domain.Status{domain.StatusAccepted, domain.StatusSubmitted}, to: domain.StatusActivity},
	OpCheckout:                {from: []domain.Status{domain.StatusAccepted, domain.StatusAction}},
}

// next returns the status t moves to under op, or a TransitionError.
func next(op Op, t domain.Task) (domain.Status, error) {
	tr, ok := transitions[op]
	if !ok {
		return "", invalidTransition(op, t.Status)
	}
	current := t.Status
	if tr.onPhase {
		current = t.SLA.Phase
	}
	if !containsStatus(tr.from, current) {
		return "", invalidTransition(op, current)
	}
	if tr.to == "" {
		return t.Status, nil
	}
	return tr.to, nil
}

// Allowed reports whether op is legal for t without attempting it.
func Allowed(op Op, t domain.Task) bool {
	if _, err := next(op, t); err != nil {
		return false
	}
	if op == OpSLAExtend {
		return t.SLA.ExtendedDays == 0 && t.SLA.DueAt != nil
	}
	return true
}

// callerOps are the operations a client can request directly, in lifecycle order.
var callerOps = []Op{
	OpAccept, OpAction, OpCheckout, OpSubmit,
	OpConfirmApproved, OpConfirmChangesRequested, OpSeal, OpSLAExtend,
}

// NextOps lists the caller operations legal for t in its current state.
func NextOps(t domain.Task) []Op {
	ops := []Op{}
	for _, op := range callerOps {
		if Allowed(op, t) {
			ops = append(ops, op)
		}
	}
	return ops
}

func containsStatus(set []domain.Status, s domain.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
