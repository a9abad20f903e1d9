package policy

import (
	"strings"
	"testing"
)

func TestScanCleanText(t *testing.T) {
	s := NewScanner()
	res := s.Scan("Would you take 750 for it? I can pick it up this weekend.")

	if res.Flagged {
		t.Errorf("clean text was flagged: %v", res.Violations)
	}
	if res.Text != "Would you take 750 for it? I can pick it up this weekend." {
		t.Errorf("clean text was altered: %q", res.Text)
	}
}

func TestScanEmailAddress(t *testing.T) {
	s := NewScanner()
	res := s.Scan("email me at x@y.com and we can sort it out")

	if !res.Flagged {
		t.Fatal("email address was not flagged")
	}
	if len(res.Violations) != 1 || res.Violations[0] != ContactInfo {
		t.Errorf("expected [contact_info], got %v", res.Violations)
	}
	if strings.Contains(res.Text, "x@y.com") {
		t.Errorf("email survived redaction: %q", res.Text)
	}
	if !strings.Contains(res.Text, "[redacted:contact_info]") {
		t.Errorf("no redaction marker in %q", res.Text)
	}
}

func TestScanPhoneNumber(t *testing.T) {
	s := NewScanner()
	res := s.Scan("call me on +1 (555) 123-4567 tonight")

	if !res.Flagged {
		t.Fatal("phone number was not flagged")
	}
	if res.Violations[0] != ContactInfo {
		t.Errorf("expected contact_info, got %v", res.Violations)
	}
	if strings.Contains(res.Text, "555") {
		t.Errorf("phone number survived redaction: %q", res.Text)
	}
}

func TestScanMessengerHandle(t *testing.T) {
	s := NewScanner()
	res := s.Scan("add me on telegram @dealmaker99")

	if !res.Flagged {
		t.Fatal("messenger handle was not flagged")
	}
	if res.Violations[0] != ContactInfo {
		t.Errorf("expected contact_info, got %v", res.Violations)
	}
}

func TestScanOffPlatformPayment(t *testing.T) {
	s := NewScanner()
	for _, text := range []string{
		"I'll knock off 10% if you pay by venmo",
		"Just do a bank transfer and skip the fees",
		"happy to take bitcoin instead",
	} {
		res := s.Scan(text)
		if !res.Flagged {
			t.Errorf("payment solicitation was not flagged: %q", text)
			continue
		}
		found := false
		for _, v := range res.Violations {
			if v == OffPlatformPayment {
				found = true
			}
		}
		if !found {
			t.Errorf("expected off_platform_payment for %q, got %v", text, res.Violations)
		}
	}
}

func TestScanExternalURL(t *testing.T) {
	s := NewScanner("marketplace.local")
	res := s.Scan("cheaper here: https://shady-deals.example/item/42")

	if !res.Flagged {
		t.Fatal("external URL was not flagged")
	}
	if res.Violations[0] != ExternalRedirect {
		t.Errorf("expected external_redirect, got %v", res.Violations)
	}
}

func TestScanPlatformURLAllowed(t *testing.T) {
	s := NewScanner("marketplace.local")
	res := s.Scan("see my other listings at https://www.marketplace.local/sellers/me")

	if res.Flagged {
		t.Errorf("platform URL was flagged: %v", res.Violations)
	}
}

func TestScanMultipleViolations(t *testing.T) {
	s := NewScanner()
	res := s.Scan("paypal me at deals@example.org")

	kinds := map[ViolationKind]bool{}
	for _, v := range res.Violations {
		kinds[v] = true
	}
	if !kinds[ContactInfo] || !kinds[OffPlatformPayment] {
		t.Errorf("expected contact_info and off_platform_payment, got %v", res.Violations)
	}
}

// TestScanDeterministic verifies that the same input always yields the
// same verdict, which the redaction audit trail depends on.
func TestScanDeterministic(t *testing.T) {
	s := NewScanner("marketplace.local")
	input := "wire me the money, or paypal deals@example.org, see www.elsewhere.example"

	first := s.Scan(input)
	for i := 0; i < 50; i++ {
		again := s.Scan(input)
		if again.Text != first.Text || again.Flagged != first.Flagged {
			t.Fatalf("scan not deterministic on run %d: %q vs %q", i, again.Text, first.Text)
		}
		if len(again.Violations) != len(first.Violations) {
			t.Fatalf("violations differ on run %d: %v vs %v", i, again.Violations, first.Violations)
		}
		for j := range again.Violations {
			if again.Violations[j] != first.Violations[j] {
				t.Fatalf("violation order differs on run %d: %v vs %v", i, again.Violations, first.Violations)
			}
		}
	}
}

func TestScanNeverPanicsOnGarbage(t *testing.T) {
	s := NewScanner()
	for _, text := range []string{"", "\x00\xff\xfe", strings.Repeat("@", 1000), "𝓌𝑒𝒾𝓇𝒹 𝓉𝑒𝓍𝓉"} {
		res := s.Scan(text)
		_ = res
	}
}
