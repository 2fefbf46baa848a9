package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/events"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/models"
	"github.com/session-market/backend/internal/payment"
	"github.com/session-market/backend/internal/quality"
	"github.com/session-market/backend/internal/repositories"
	"go.uber.org/zap"
)

const (
	testCustodian = "EQCustodianWallet"
	testClient    = "EQClientWallet"
	testProvider  = "EQProviderWallet"
)

// fakeRail settles transfers in memory with real idempotency semantics:
// a repeated key returns the original receipt without a second transfer.
// holdSettlements parks release/refund legs at the rail until resumed, to
// widen settlement races.
type fakeRail struct {
	mu       sync.Mutex
	receipts map[string]*payment.Receipt
	failing  map[string]error // phase suffix -> error
	calls    []payment.Receipt
	hold     *settlementHold
}

type settlementHold struct {
	entered chan string
	resume  chan struct{}
}

func newFakeRail() *fakeRail {
	return &fakeRail{
		receipts: make(map[string]*payment.Receipt),
		failing:  make(map[string]error),
	}
}

func (r *fakeRail) failPhase(phase string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failing, phase)
		return
	}
	r.failing[phase] = err
}

// holdSettlements must be called before any settlement begins.
func (r *fakeRail) holdSettlements() *settlementHold {
	r.hold = &settlementHold{
		entered: make(chan string, 8),
		resume:  make(chan struct{}),
	}
	return r.hold
}

func (r *fakeRail) Transfer(_ context.Context, from, to, amountTON, idempotencyKey string) (*payment.Receipt, error) {
	if r.hold != nil &&
		(strings.HasSuffix(idempotencyKey, ":"+payment.PhaseRelease) ||
			strings.HasSuffix(idempotencyKey, ":"+payment.PhaseRefund)) {
		r.hold.entered <- idempotencyKey
		<-r.hold.resume
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for phase, err := range r.failing {
		if strings.HasSuffix(idempotencyKey, ":"+phase) {
			return nil, err
		}
	}

	if prior, ok := r.receipts[idempotencyKey]; ok {
		return prior, nil
	}

	rec := &payment.Receipt{
		Reference:      "tx-" + idempotencyKey,
		From:           from,
		To:             to,
		AmountTON:      amountTON,
		IdempotencyKey: idempotencyKey,
		CompletedAt:    time.Now().UTC(),
	}
	r.receipts[idempotencyKey] = rec
	r.calls = append(r.calls, *rec)
	return rec, nil
}

func (r *fakeRail) transferCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRail) callsTo(identity string) []payment.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []payment.Receipt
	for _, c := range r.calls {
		if c.To == identity {
			out = append(out, c)
		}
	}
	return out
}

// fakeOracle returns scripted verdicts per session ref.
type fakeOracle struct {
	mu       sync.Mutex
	verdicts map[string]*quality.Verdict
	err      error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{verdicts: make(map[string]*quality.Verdict)}
}

func (o *fakeOracle) score(sessionRef string, score float64, passed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts[sessionRef] = &quality.Verdict{SessionRef: sessionRef, Score: score, Passed: passed}
}

func (o *fakeOracle) Evaluate(_ context.Context, sessionRef string) (*quality.Verdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	v, ok := o.verdicts[sessionRef]
	if !ok {
		return nil, fmt.Errorf("no verdict scripted for session %s", sessionRef)
	}
	return v, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, events.Event) error { return nil }

type testEnv struct {
	store    *ledger.MemoryStore
	rail     *fakeRail
	oracle   *fakeOracle
	cfg      *config.Config
	audits   *repositories.AuditRepo
	registry *RegistryService
	bookings *BookingService
	escrows  *EscrowService
	disputes *DisputeService
	workflow *WorkflowService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := ledger.NewMemoryStore()
	rail := newFakeRail()
	oracle := newFakeOracle()
	log := zap.NewNop()
	cfg := &config.Config{
		CustodianWalletAddress: testCustodian,
		QualityPassThreshold:   70,
		RefundRemainderPolicy:  config.RemainderPolicyCustodian,
		ExternalCallTimeout:    5 * time.Second,
	}

	serviceRepo := repositories.NewServiceRepo(store)
	bookingRepo := repositories.NewBookingRepo(store)
	escrowRepo := repositories.NewEscrowRepo(store)
	disputeRepo := repositories.NewDisputeRepo(store)
	auditRepo := repositories.NewAuditRepo(store)

	pub := noopPublisher{}
	registry := NewRegistryService(serviceRepo, auditRepo, pub, log)
	bookings := NewBookingService(bookingRepo, registry, auditRepo, pub, log)
	escrows := NewEscrowService(escrowRepo, rail, auditRepo, pub, cfg, log)
	disputes := NewDisputeService(disputeRepo, bookings, escrows, auditRepo, pub, log)
	workflow := NewWorkflowService(registry, bookings, escrows, disputes, oracle, cfg, log)

	return &testEnv{
		store:    store,
		rail:     rail,
		oracle:   oracle,
		cfg:      cfg,
		audits:   auditRepo,
		registry: registry,
		bookings: bookings,
		escrows:  escrows,
		disputes: disputes,
		workflow: workflow,
	}
}

func (e *testEnv) createService(t *testing.T, priceTON string) *models.Service {
	t.Helper()
	svc, err := e.registry.CreateService(context.Background(), testProvider, "consultation", priceTON,
		time.Now().UTC().Add(time.Hour), time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return svc
}

func bookingFilterForService(id uuid.UUID) repositories.BookingFilter {
	return repositories.BookingFilter{ServiceID: &id}
}

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}
