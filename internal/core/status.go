package core

import "slices"

// Status is the lifecycle state of an order, invoice, or cash flow.
type Status string

const (
	OrderDraft     Status = "draft"
	OrderValid     Status = "valid"
	OrderApproved  Status = "approved"
	OrderRejected  Status = "rejected"
	OrderProcessed Status = "processed"
	OrderComplete  Status = "complete"
	OrderTrash     Status = "trash"

	InvoicePending Status = "pending"
	InvoicePaid    Status = "paid"
	InvoiceClosed  Status = "closed"
	InvoiceTrash   Status = "trash"

	CashFlowWaiting   Status = "waiting"
	CashFlowConfirmed Status = "confirmed"
	CashFlowRejected  Status = "rejected"
	CashFlowRefunded  Status = "refunded"
)

// Transition is one row of a status table. Firing Action from a state in Noop
// succeeds without changing anything.
type Transition struct {
	Action string
	From   []Status
	To     Status
	Noop   []Status
}

// StatusMachine is an immutable transition table for one entity kind.
type StatusMachine struct {
	entity      string
	transitions map[string]Transition
}

// NewStatusMachine builds a machine from its transitions. A later transition with
// the same action replaces an earlier one.
func NewStatusMachine(entity string, transitions ...Transition) StatusMachine {
	m := StatusMachine{entity: entity, transitions: make(map[string]Transition, len(transitions))}
	for _, t := range transitions {
		m.transitions[t.Action] = t
	}
	return m
}

// Fire resolves action against the current status. It returns the target status and
// whether anything changes; a disallowed transition yields a *TransitionError.
func (m StatusMachine) Fire(action string, from Status) (Status, bool, error) {
	t, ok := m.transitions[action]
	if !ok {
		return from, false, &TransitionError{Entity: m.entity, Action: action, From: from}
	}
	if slices.Contains(t.Noop, from) {
		return from, false, nil
	}
	if !slices.Contains(t.From, from) {
		return from, false, &TransitionError{Entity: m.entity, Action: action, From: from}
	}
	return t.To, true, nil
}

// Can reports whether action would change status from the given state.
func (m StatusMachine) Can(action string, from Status) bool {
	_, changed, err := m.Fire(action, from)
	return err == nil && changed
}

// Actions lists the actions the machine knows, in no particular order.
func (m StatusMachine) Actions() []string {
	out := make([]string, 0, len(m.transitions))
	for a := range m.transitions {
		out = append(out, a)
	}
	return out
}

// Order actions.
const (
	ActionDraft    = "draft"
	ActionValidate = "validate"
	ActionReject   = "reject"
	ActionTrash    = "trash"
	ActionApprove  = "approve"
	ActionProcess  = "process"
	ActionComplete = "complete"
)

// Invoice and cash flow actions.
const (
	ActionPay     = "pay"
	ActionClose   = "close"
	ActionRevive  = "revive"
	ActionConfirm = "confirm"
	ActionRefund  = "refund"
)

var orderNonTrash = []Status{OrderDraft, OrderValid, OrderApproved, OrderRejected, OrderProcessed, OrderComplete}

func orderBaseTransitions() []Transition {
	return []Transition{
		{Action: ActionDraft, From: []Status{OrderValid, OrderApproved, OrderRejected, OrderProcessed, OrderComplete}, To: OrderDraft},
		{Action: ActionValidate, From: []Status{OrderDraft}, To: OrderValid},
		{Action: ActionReject, From: []Status{OrderValid}, To: OrderRejected, Noop: []Status{OrderRejected}},
		{Action: ActionTrash, From: orderNonTrash, To: OrderTrash},
	}
}

// ThreeStepOrderMachine: draft → valid → approved | rejected. Approval of a trashed
// order is a no-op so that a receipt waiting from before the trash can still settle.
var ThreeStepOrderMachine = NewStatusMachine("order", append(orderBaseTransitions(),
	Transition{Action: ActionApprove, From: []Status{OrderValid}, To: OrderApproved, Noop: []Status{OrderApproved, OrderTrash}},
)...)

// FiveStepOrderMachine adds approved → processed → complete.
var FiveStepOrderMachine = NewStatusMachine("order", append(orderBaseTransitions(),
	Transition{Action: ActionApprove, From: []Status{OrderValid}, To: OrderApproved, Noop: []Status{OrderApproved, OrderProcessed, OrderComplete, OrderTrash}},
	Transition{Action: ActionProcess, From: []Status{OrderApproved}, To: OrderProcessed, Noop: []Status{OrderProcessed}},
	Transition{Action: ActionComplete, From: []Status{OrderProcessed}, To: OrderComplete, Noop: []Status{OrderComplete}},
)...)

// InvoiceMachine: pending → paid → closed, pending → closed, pending → trash.
// A trashed invoice is revived when its order is validated again.
var InvoiceMachine = NewStatusMachine("invoice",
	Transition{Action: ActionPay, From: []Status{InvoicePending, InvoicePaid}, To: InvoicePaid},
	Transition{Action: ActionClose, From: []Status{InvoicePending, InvoicePaid}, To: InvoiceClosed, Noop: []Status{InvoiceClosed}},
	Transition{Action: ActionTrash, From: []Status{InvoicePending}, To: InvoiceTrash, Noop: []Status{InvoiceTrash}},
	Transition{Action: ActionRevive, From: []Status{InvoiceTrash}, To: InvoicePending, Noop: []Status{InvoicePending}},
)

// CashFlowMachine: waiting → confirmed | rejected, confirmed → refunded.
var CashFlowMachine = NewStatusMachine("cash flow",
	Transition{Action: ActionConfirm, From: []Status{CashFlowWaiting}, To: CashFlowConfirmed, Noop: []Status{CashFlowConfirmed}},
	Transition{Action: ActionReject, From: []Status{CashFlowWaiting}, To: CashFlowRejected, Noop: []Status{CashFlowRejected}},
	Transition{Action: ActionRefund, From: []Status{CashFlowConfirmed}, To: CashFlowRefunded, Noop: []Status{CashFlowRefunded}},
)
