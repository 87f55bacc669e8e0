package core

import (
	"errors"
	"testing"
)

func TestStatusMachine_OrderTransitions(t *testing.T) {
	tests := []struct {
		name        string
		machine     StatusMachine
		action      string
		from        Status
		wantTo      Status
		wantChanged bool
		wantErr     bool
	}{
		{"validate draft", ThreeStepOrderMachine, ActionValidate, OrderDraft, OrderValid, true, false},
		{"validate valid", ThreeStepOrderMachine, ActionValidate, OrderValid, OrderValid, false, true},
		{"reject valid", ThreeStepOrderMachine, ActionReject, OrderValid, OrderRejected, true, false},
		{"reject rejected is a no-op", ThreeStepOrderMachine, ActionReject, OrderRejected, OrderRejected, false, false},
		{"reject draft", ThreeStepOrderMachine, ActionReject, OrderDraft, OrderDraft, false, true},
		{"draft from valid", ThreeStepOrderMachine, ActionDraft, OrderValid, OrderDraft, true, false},
		{"draft from trash", ThreeStepOrderMachine, ActionDraft, OrderTrash, OrderTrash, false, true},
		{"trash from approved", ThreeStepOrderMachine, ActionTrash, OrderApproved, OrderTrash, true, false},
		{"trash twice", ThreeStepOrderMachine, ActionTrash, OrderTrash, OrderTrash, false, true},
		{"draft from draft", ThreeStepOrderMachine, ActionDraft, OrderDraft, OrderDraft, false, true},
		{"approve trashed is a no-op", ThreeStepOrderMachine, ActionApprove, OrderTrash, OrderTrash, false, false},
		{"approve trashed five-step is a no-op", FiveStepOrderMachine, ActionApprove, OrderTrash, OrderTrash, false, false},
		{"approve valid", ThreeStepOrderMachine, ActionApprove, OrderValid, OrderApproved, true, false},
		{"approve approved", ThreeStepOrderMachine, ActionApprove, OrderApproved, OrderApproved, false, false},
		{"approve draft", ThreeStepOrderMachine, ActionApprove, OrderDraft, OrderDraft, false, true},
		{"process on three-step", ThreeStepOrderMachine, ActionProcess, OrderApproved, OrderApproved, false, true},
		{"process approved", FiveStepOrderMachine, ActionProcess, OrderApproved, OrderProcessed, true, false},
		{"complete processed", FiveStepOrderMachine, ActionComplete, OrderProcessed, OrderComplete, true, false},
		{"complete approved", FiveStepOrderMachine, ActionComplete, OrderApproved, OrderApproved, false, true},
		{"approve complete is a no-op", FiveStepOrderMachine, ActionApprove, OrderComplete, OrderComplete, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, changed, err := tt.machine.Fire(tt.action, tt.from)
			if tt.wantErr {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Fatalf("expected *TransitionError, got %v", err)
				}
				if !errors.Is(err, ErrPreconditionViolation) {
					t.Errorf("expected error to wrap ErrPreconditionViolation")
				}
				if te.From != tt.from || te.Action != tt.action {
					t.Errorf("unexpected error detail: %+v", te)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if to != tt.wantTo || changed != tt.wantChanged {
				t.Errorf("expected (%s, %v), got (%s, %v)", tt.wantTo, tt.wantChanged, to, changed)
			}
		})
	}
}

func TestStatusMachine_CashFlow(t *testing.T) {
	if !CashFlowMachine.Can(ActionConfirm, CashFlowWaiting) {
		t.Error("waiting cash flow should be confirmable")
	}
	if CashFlowMachine.Can(ActionConfirm, CashFlowConfirmed) {
		t.Error("confirming a confirmed cash flow should not change it")
	}
	if _, _, err := CashFlowMachine.Fire(ActionReject, CashFlowConfirmed); !errors.Is(err, ErrPreconditionViolation) {
		t.Errorf("reject after confirm: expected precondition violation, got %v", err)
	}
	if _, changed, err := CashFlowMachine.Fire(ActionReject, CashFlowRejected); err != nil || changed {
		t.Errorf("reject after reject: expected no-op, got changed=%v err=%v", changed, err)
	}
	if _, _, err := CashFlowMachine.Fire(ActionRefund, CashFlowWaiting); !errors.Is(err, ErrPreconditionViolation) {
		t.Errorf("refund while waiting: expected precondition violation, got %v", err)
	}
	if to, changed, err := CashFlowMachine.Fire(ActionRefund, CashFlowConfirmed); err != nil || !changed || to != CashFlowRefunded {
		t.Errorf("refund confirmed: got %s changed=%v err=%v", to, changed, err)
	}
}

func TestStatusMachine_UnknownAction(t *testing.T) {
	_, _, err := InvoiceMachine.Fire("ship", InvoicePending)
	var te *TransitionError
	if !errors.As(err, &te) || te.Entity != "invoice" {
		t.Fatalf("expected invoice TransitionError, got %v", err)
	}
	if got := te.Error(); got != "invoice cannot ship: status is pending" {
		t.Errorf("unexpected message %q", got)
	}
}
