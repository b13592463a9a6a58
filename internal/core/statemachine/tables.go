package statemachine

// Lifecycle tables for every governed entity. Terminal states are sinks;
// they simply have no row.

// StatementEntry lifecycle (bank statement reconciliation).
var StatementEntry = &Machine{
	Entity: "statement_entry",
	Transitions: map[State][]State{
		"NEW":               {"CANDIDATE_MATCHED", "UNMATCHED", "ESCALATED"},
		"CANDIDATE_MATCHED": {"MATCHED", "PARTIAL_MATCHED", "UNMATCHED"},
		"UNMATCHED":         {"DISPUTED", "ESCALATED"},
		"DISPUTED":          {"RESOLVED"},
		"MATCHED":           {"SETTLED"},
	},
}

// ExternalTransfer lifecycle. FAILED may retry back to CREATED.
var ExternalTransfer = &Machine{
	Entity: "external_transfer",
	Transitions: map[State][]State{
		"CREATED": {"PENDING"},
		"PENDING": {"SETTLED", "FAILED", "ANOMALY_CURRENCY"},
		"FAILED":  {"CREATED"},
	},
}

// SettlementBatch lifecycle. Any non-terminal state may fail.
var SettlementBatch = &Machine{
	Entity: "settlement_batch",
	Transitions: map[State][]State{
		"CREATED":    {"READY", "FAILED"},
		"READY":      {"REQUESTED", "FAILED"},
		"REQUESTED":  {"PROCESSING", "FAILED"},
		"PROCESSING": {"COMPLETED", "FAILED"},
	},
}

// Payout lifecycle.
var Payout = &Machine{
	Entity: "payout",
	Transitions: map[State][]State{
		"REQUESTED": {"APPROVED", "REJECTED", "FAILED"},
		"APPROVED":  {"PENDING", "REJECTED", "FAILED"},
		"PENDING":   {"SETTLED", "REJECTED", "FAILED"},
	},
}

// Beneficiary lifecycle, including the update re-verification loop.
var Beneficiary = &Machine{
	Entity: "beneficiary",
	Transitions: map[State][]State{
		"DRAFT":                       {"PENDING_VERIFICATION"},
		"PENDING_VERIFICATION":        {"PENDING_APPROVAL", "REJECTED"},
		"PENDING_APPROVAL":            {"ACTIVE", "REJECTED"},
		"ACTIVE":                      {"UPDATE_PENDING_VERIFICATION"},
		"UPDATE_PENDING_VERIFICATION": {"UPDATE_PENDING_APPROVAL", "REJECTED"},
		"UPDATE_PENDING_APPROVAL":     {"ACTIVE", "REJECTED"},
	},
}

// ReconciliationCase lifecycle.
var ReconciliationCase = &Machine{
	Entity: "reconciliation_case",
	Transitions: map[State][]State{
		"OPEN":          {"INVESTIGATING"},
		"INVESTIGATING": {"RESOLVED"},
	},
}

// Journal lifecycle. POSTED rows are never mutated beyond this state field.
var Journal = &Machine{
	Entity: "ledger_journal",
	Transitions: map[State][]State{
		"POSTED":         {"VOID_REQUESTED"},
		"VOID_REQUESTED": {"REVERSED"},
	},
}

// ApprovalRequest lifecycle.
var ApprovalRequest = &Machine{
	Entity: "approval_request",
	Transitions: map[State][]State{
		"PENDING": {"APPROVED", "REJECTED", "EXPIRED"},
	},
}

// OverdraftFacility lifecycle.
var OverdraftFacility = &Machine{
	Entity: "overdraft_facility",
	Transitions: map[State][]State{
		"PENDING":  {"APPROVED", "REJECTED"},
		"APPROVED": {"ACTIVE", "CLOSED"},
		"ACTIVE":   {"CLOSED"},
	},
}

// All registers every lifecycle by entity name for generic validation.
var All = map[string]*Machine{
	StatementEntry.Entity:     StatementEntry,
	ExternalTransfer.Entity:   ExternalTransfer,
	SettlementBatch.Entity:    SettlementBatch,
	Payout.Entity:             Payout,
	Beneficiary.Entity:        Beneficiary,
	ReconciliationCase.Entity: ReconciliationCase,
	Journal.Entity:            Journal,
	ApprovalRequest.Entity:    ApprovalRequest,
	OverdraftFacility.Entity:  OverdraftFacility,
}

// Validate looks up the entity's machine and validates one transition.
func Validate(entity string, from, to State) error {
	m, ok := All[entity]
	if !ok {
		return &InvalidTransitionError{Entity: entity, From: from, To: to}
	}
	return m.Validate(from, to)
}
