package ledger

import "context"

// Key namespaces. Each entity type occupies its own prefix; no
// cross-namespace transactions are assumed.
const (
	PrefixService = "service/"
	PrefixBooking = "booking/"
	PrefixEscrow  = "escrow/"
	PrefixDispute = "dispute/"
	PrefixAudit   = "audit/"
	PrefixDeposit = "deposit/"
)

// StatusAbsent, passed as expectedStatus, requires that the key does not
// exist yet (create-if-missing).
const StatusAbsent = ""

type KV struct {
	Key   string
	Value []byte
}

// Store is the durable source of truth for all entity records. Every
// mutation is a conditional write keyed by the record's current status,
// never a blind overwrite.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// PutIfStatus writes value (with its new status) under key only if the
	// record's current status equals expectedStatus. When the condition
	// fails it returns ok=false together with the current value so the
	// caller can report what it lost the race to.
	PutIfStatus(ctx context.Context, key, expectedStatus, newStatus string, value []byte) (ok bool, current []byte, err error)

	// ListByPrefix returns all records under prefix. Order is unspecified;
	// callers sort for determinism.
	ListByPrefix(ctx context.Context, prefix string) ([]KV, error)
}
