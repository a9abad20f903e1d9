package sweeper

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"api_negotiations/internal/discount"
	"api_negotiations/internal/listing"
	"api_negotiations/internal/negotiation"
	"api_negotiations/internal/policy"
)

type stubListings struct{}

func (stubListings) Get(id string) (*listing.Listing, error) {
	return &listing.Listing{ID: id, SellerID: "seller-1", Price: 1000, Currency: "USD"}, nil
}

func TestSweepExpiresStaleRecords(t *testing.T) {
	logger := zaptest.NewLogger(t)
	issuer := discount.NewIssuer(discount.NewLocalStorage(), logger)
	svc := negotiation.NewService(negotiation.NewLocalStorage(), stubListings{}, issuer, policy.NewScanner(), logger)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return start }
	issuer.Now = svc.Now

	stale, err := svc.Create("buyer-1", "listing-1")
	if err != nil {
		t.Fatal(err)
	}

	// A second thread accepted right away; its code will outlive the
	// first thread but expire at the 48h mark.
	accepted, _ := svc.Create("buyer-2", "listing-2")
	svc.Propose(accepted.ID, negotiation.RoleBuyer, 800, "")
	if _, _, err := svc.Accept(accepted.ID, negotiation.RoleSeller, 800); err != nil {
		t.Fatal(err)
	}

	sw := New(svc, issuer, logger, time.Minute)

	// One minute past the 7-day deadline: the open thread expires, and
	// the 48h-old code expires with it.
	later := start.Add(7*24*time.Hour + time.Minute)
	svc.Now = func() time.Time { return later }
	issuer.Now = svc.Now

	swept := sw.SweepOnce()
	if swept != 2 {
		t.Errorf("expected 2 records transitioned (1 negotiation, 1 code), got %d", swept)
	}
	if !sw.Healthy() {
		t.Error("sweeper should be healthy after a reachable sweep")
	}

	got, _ := svc.Get(stale.ID)
	if got.State != negotiation.StateExpired {
		t.Errorf("expected expired, got %s", got.State)
	}

	// Sweeps are idempotent; a second pass finds nothing to do.
	if again := sw.SweepOnce(); again != 0 {
		t.Errorf("second sweep should transition nothing, got %d", again)
	}
}

func TestSweepSkipsFreshRecords(t *testing.T) {
	logger := zaptest.NewLogger(t)
	issuer := discount.NewIssuer(discount.NewLocalStorage(), logger)
	svc := negotiation.NewService(negotiation.NewLocalStorage(), stubListings{}, issuer, policy.NewScanner(), logger)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return start }

	n, _ := svc.Create("buyer-1", "listing-1")

	svc.Now = func() time.Time { return start.Add(3 * 24 * time.Hour) }
	sw := New(svc, issuer, logger, time.Minute)
	if swept := sw.SweepOnce(); swept != 0 {
		t.Errorf("nothing is due yet, got %d transitions", swept)
	}

	got, _ := svc.Get(n.ID)
	if got.State != negotiation.StateOpen {
		t.Errorf("fresh thread must stay open, got %s", got.State)
	}
}
