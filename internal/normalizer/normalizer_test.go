package normalizer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
)

// fakeStore embeds a nil ports.CanonicalStore so only InsertTransaction
// needs overriding; any other method panics if the test ever calls it,
// which is the point -- Normalize should not touch settlement/match/
// ledger methods.
type fakeStore struct {
	ports.CanonicalStore
	insert func(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error)
}

func (f *fakeStore) InsertTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error) {
	return f.insert(ctx, txn)
}

type fakeFX struct {
	rate ports.FXRate
	err  error
}

func (f *fakeFX) Rate(ctx context.Context, from, to string, asOf time.Time) (ports.FXRate, error) {
	return f.rate, f.err
}

type fakeBus struct {
	published []ports.Message
}

func (b *fakeBus) Publish(ctx context.Context, topic ports.Topic, msg ports.Message) error {
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic ports.Topic) (ports.Subscription, error) {
	panic("not used by normalizer")
}

func TestNormalizeNoFXWhenCurrencyMatchesBase(t *testing.T) {
	var captured domain.Transaction
	store := &fakeStore{insert: func(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error) {
		captured = txn
		txn.ID = uuid.New()
		return txn, true, nil
	}}
	b := &fakeBus{}
	n := New(store, &fakeFX{}, b)

	cfg := domain.ConnectionConfig{TenantID: uuid.New(), ConnectionID: "conn-1", BaseCurrency: "USD"}
	ev := domain.ParsedEvent{
		CanonicalEventType: domain.EventDeposit,
		AmountValue:        10000,
		Currency:           "USD",
		PSPTxnID:           "psp-1",
		CreatedAt:          time.Now().UTC(),
	}

	stored, created, err := n.Normalize(context.Background(), cfg, "idem-1", ev)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if captured.FXRate != nil {
		t.Fatal("expected no FX enrichment when currency matches base")
	}
	if stored.Amount.Value != 10000 || stored.Amount.Currency != "USD" {
		t.Fatalf("unexpected amount %+v", stored.Amount)
	}
	if len(b.published) != 1 {
		t.Fatalf("expected one publish to TopicNormalized, got %d", len(b.published))
	}
}

func TestNormalizeEnrichesFXWhenCurrencyDiffers(t *testing.T) {
	store := &fakeStore{insert: func(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error) {
		txn.ID = uuid.New()
		return txn, true, nil
	}}
	fx := &fakeFX{rate: ports.FXRate{Value: 1.1, Source: "ecb", AsOfDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}}
	b := &fakeBus{}
	n := New(store, fx, b)

	cfg := domain.ConnectionConfig{TenantID: uuid.New(), ConnectionID: "conn-1", BaseCurrency: "USD"}
	ev := domain.ParsedEvent{
		CanonicalEventType: domain.EventDeposit,
		AmountValue:        10000,
		Currency:           "EUR",
		PSPTxnID:           "psp-2",
		CreatedAt:          time.Now().UTC(),
	}

	stored, _, err := n.Normalize(context.Background(), cfg, "idem-2", ev)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if stored.FXRate == nil || *stored.FXRate != 1.1 {
		t.Fatalf("expected FXRate 1.1, got %v", stored.FXRate)
	}
	if stored.OriginalCurrency != "EUR" {
		t.Fatalf("expected OriginalCurrency EUR, got %s", stored.OriginalCurrency)
	}
	if stored.Amount.Currency != "USD" {
		t.Fatalf("expected converted currency USD, got %s", stored.Amount.Currency)
	}
	if stored.Amount.Value != 11000 {
		t.Fatalf("expected converted amount 11000, got %d", stored.Amount.Value)
	}
}

func TestNormalizeFXFailurePropagatesAndSkipsInsert(t *testing.T) {
	inserted := false
	store := &fakeStore{insert: func(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error) {
		inserted = true
		return txn, true, nil
	}}
	fx := &fakeFX{err: errUnavailable}
	b := &fakeBus{}
	n := New(store, fx, b)

	cfg := domain.ConnectionConfig{TenantID: uuid.New(), ConnectionID: "conn-1", BaseCurrency: "USD"}
	ev := domain.ParsedEvent{
		CanonicalEventType: domain.EventDeposit,
		AmountValue:        10000,
		Currency:           "EUR",
		PSPTxnID:           "psp-3",
		CreatedAt:          time.Now().UTC(),
	}

	if _, _, err := n.Normalize(context.Background(), cfg, "idem-3", ev); err == nil {
		t.Fatal("expected FX failure to propagate")
	}
	if inserted {
		t.Fatal("expected InsertTransaction not to be called when FX enrichment fails")
	}
}

func TestNormalizeDuplicateDoesNotRepublish(t *testing.T) {
	existingID := uuid.New()
	store := &fakeStore{insert: func(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error) {
		txn.ID = existingID
		return txn, false, nil
	}}
	b := &fakeBus{}
	n := New(store, &fakeFX{}, b)

	cfg := domain.ConnectionConfig{TenantID: uuid.New(), ConnectionID: "conn-1", BaseCurrency: "USD"}
	ev := domain.ParsedEvent{CanonicalEventType: domain.EventDeposit, AmountValue: 500, Currency: "USD", PSPTxnID: "psp-dup", CreatedAt: time.Now().UTC()}

	_, created, err := n.Normalize(context.Background(), cfg, "idem-dup", ev)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if created {
		t.Fatal("expected created=false on replay")
	}
	if len(b.published) != 0 {
		t.Fatalf("expected no publish on a replay, got %d", len(b.published))
	}
}

var errUnavailable = &fxUnavailableErr{}

type fxUnavailableErr struct{}

func (e *fxUnavailableErr) Error() string { return "fx rate unavailable" }
