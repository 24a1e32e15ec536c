package shipment

// Stop describes how a checkpoint affects the status when a package
// proceeds through it.
type Stop struct {
	// Delivery marks the final hand-over checkpoint.
	Delivery bool
	// Hold keeps the package at the checkpoint instead of moving on.
	Hold bool
}

// Outcome is the result of evaluating one checkpoint scan.
type Outcome struct {
	Decision    Decision
	TamperCheck TamperCheck
	Status      Status
}

// Evaluate decides a checkpoint scan. It is a pure function of the
// current status, the checkpoint, the operator's choice and the tamper
// events found in the scan's window.
//
// Tamper evidence always wins over the operator: a non-empty window forces
// a return with TamperCheckFailed.
func Evaluate(current Status, stop Stop, operator Decision, windowTampers []TamperEvent) (Outcome, error) {
	if !operator.Valid() {
		return Outcome{}, ErrInvalidDecision
	}
	if current.Terminal() {
		return Outcome{}, ErrAlreadyTerminal
	}

	var out Outcome
	switch {
	case len(windowTampers) > 0:
		out = Outcome{Decision: DecisionReturn, TamperCheck: TamperCheckFailed, Status: StatusReturningToSender}
	case operator == DecisionReturn:
		out = Outcome{Decision: DecisionReturn, TamperCheck: TamperCheckPassed, Status: StatusReturningToSender}
	case stop.Delivery:
		out = Outcome{Decision: DecisionProceed, TamperCheck: TamperCheckPassed, Status: StatusDelivered}
	case stop.Hold:
		out = Outcome{Decision: DecisionProceed, TamperCheck: TamperCheckPassed, Status: StatusAtCheckpoint}
	default:
		out = Outcome{Decision: DecisionProceed, TamperCheck: TamperCheckPassed, Status: StatusInTransit}
	}

	if !CanTransition(current, out.Status) {
		return Outcome{}, ErrInvalidTransition
	}
	return out, nil
}
