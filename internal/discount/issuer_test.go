package discount

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testIssuer(t *testing.T) *Issuer {
	return NewIssuer(NewLocalStorage(), zaptest.NewLogger(t))
}

func TestIssueBindsCodeToNegotiation(t *testing.T) {
	issuer := testIssuer(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.Now = func() time.Time { return issued }

	code, err := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if code.Code == "" {
		t.Error("expected a non-empty code string")
	}
	if code.Price != 750 {
		t.Errorf("expected redemption price 750, got %d", code.Price)
	}
	if !code.ExpiresAt.Equal(issued.Add(48 * time.Hour)) {
		t.Errorf("expected expiry 48h after issue, got %v", code.ExpiresAt)
	}
	if code.Status != StatusUnredeemed {
		t.Errorf("expected unredeemed, got %s", code.Status)
	}
}

func TestIssueTwiceForSameNegotiation(t *testing.T) {
	issuer := testIssuer(t)

	if _, err := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD"); err != nil {
		t.Fatalf("first Issue returned error: %v", err)
	}
	_, err := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")
	if !errors.Is(err, ErrAlreadyIssued) {
		t.Errorf("expected ErrAlreadyIssued, got %v", err)
	}
}

func TestRedeemHappyPath(t *testing.T) {
	issuer := testIssuer(t)
	code, _ := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")

	redeemed, err := issuer.Redeem(code.Code, "listing-1", "buyer-1")
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if redeemed.Status != StatusRedeemed {
		t.Errorf("expected redeemed, got %s", redeemed.Status)
	}
	if redeemed.RedeemedAt == nil {
		t.Error("expected RedeemedAt to be set")
	}
}

func TestRedeemNonTransferable(t *testing.T) {
	issuer := testIssuer(t)
	code, _ := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")

	if _, err := issuer.Redeem(code.Code, "listing-1", "someone-else"); !errors.Is(err, ErrMismatch) {
		t.Errorf("expected ErrMismatch for wrong buyer, got %v", err)
	}
	if _, err := issuer.Redeem(code.Code, "other-listing", "buyer-1"); !errors.Is(err, ErrMismatch) {
		t.Errorf("expected ErrMismatch for wrong listing, got %v", err)
	}

	// The mismatch attempts must not have spent the code.
	if _, err := issuer.Redeem(code.Code, "listing-1", "buyer-1"); err != nil {
		t.Errorf("legitimate redemption failed after mismatches: %v", err)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	issuer := testIssuer(t)
	if _, err := issuer.Redeem("no-such-code", "l", "b"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound, got %v", err)
	}
}

// TestRedeemExpiredByClock verifies that expiry is computed at redemption
// time even when the sweeper never marked the code.
func TestRedeemExpiredByClock(t *testing.T) {
	issuer := testIssuer(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.Now = func() time.Time { return issued }
	code, _ := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")

	issuer.Now = func() time.Time { return issued.Add(48*time.Hour + time.Minute) }
	if _, err := issuer.Redeem(code.Code, "listing-1", "buyer-1"); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("expected ErrCodeExpired, got %v", err)
	}
}

func TestRedeemTwice(t *testing.T) {
	issuer := testIssuer(t)
	code, _ := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")

	if _, err := issuer.Redeem(code.Code, "listing-1", "buyer-1"); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}
	if _, err := issuer.Redeem(code.Code, "listing-1", "buyer-1"); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Errorf("expected ErrAlreadyRedeemed, got %v", err)
	}
}

// TestRedeemConcurrent spends one code from many goroutines; exactly one
// must win.
func TestRedeemConcurrent(t *testing.T) {
	issuer := testIssuer(t)
	code, _ := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := issuer.Redeem(code.Code, "listing-1", "buyer-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyRedeemed):
			losses++
		default:
			t.Errorf("unexpected redemption error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 successful redemption, got %d", wins)
	}
	if losses != attempts-1 {
		t.Errorf("expected %d ErrAlreadyRedeemed, got %d", attempts-1, losses)
	}
}

func TestExpireDue(t *testing.T) {
	issuer := testIssuer(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.Now = func() time.Time { return issued }

	stale, _ := issuer.Issue("neg-1", "listing-1", "buyer-1", 750, "USD")
	issuer.Now = func() time.Time { return issued.Add(time.Hour) }
	fresh, _ := issuer.Issue("neg-2", "listing-2", "buyer-2", 900, "USD")

	// Sweep at T0+48h30m: only the first code is past its 48h window.
	issuer.Now = func() time.Time { return issued.Add(48*time.Hour + 30*time.Minute) }

	expired, err := issuer.ExpireDue()
	if err != nil {
		t.Fatalf("ExpireDue returned error: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired code, got %d", expired)
	}

	if _, err := issuer.Redeem(stale.Code, "listing-1", "buyer-1"); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("expected ErrCodeExpired for swept code, got %v", err)
	}
	if _, err := issuer.Redeem(fresh.Code, "listing-2", "buyer-2"); err != nil {
		t.Errorf("fresh code should still redeem, got %v", err)
	}
}
