package policy

import (
	"regexp"
	"strings"
)

// ViolationKind classifies what a prohibited pattern tried to do.
type ViolationKind string

const (
	ContactInfo        ViolationKind = "contact_info"
	OffPlatformPayment ViolationKind = "off_platform_payment"
	ExternalRedirect   ViolationKind = "external_redirect"
)

// Result is the outcome of scanning one message. Text is the input with
// every match replaced by a redaction marker; the caller keeps the raw text
// for audit.
type Result struct {
	Text       string          `json:"text"`
	Flagged    bool            `json:"flagged"`
	Violations []ViolationKind `json:"violations,omitempty"`
}

// rule pairs one detection pattern with the violation it evidences. New
// prohibited patterns are added to the table, not as new code paths.
type rule struct {
	kind    ViolationKind
	pattern *regexp.Regexp
}

// Rules are evaluated in order on the progressively redacted text, so an
// email address is consumed by the email rule before the handle rule can
// see its @ sign.
var rules = []rule{
	{ContactInfo, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{ContactInfo, regexp.MustCompile(`\+?\d[\d().\-\s]{6,}\d\d`)},
	{ContactInfo, regexp.MustCompile(`(?i)\b(?:telegram|whatsapp|signal|instagram|insta|discord|snap(?:chat)?|wechat|skype)\b[\s:.\-]*@?[A-Za-z0-9_.]*`)},
	{ContactInfo, regexp.MustCompile(`@[A-Za-z0-9_]{3,}`)},
	{OffPlatformPayment, regexp.MustCompile(`(?i)\b(?:venmo|paypal|cash\s?app|zelle|revolut|western\s+union|moneygram)\b`)},
	{OffPlatformPayment, regexp.MustCompile(`(?i)\b(?:bank\s+transfer|wire\s+(?:me|transfer|the\s+money)|iban|account\s+number|routing\s+number)\b`)},
	{OffPlatformPayment, regexp.MustCompile(`(?i)\b(?:bitcoin|btc|ethereum|eth\b|usdt|crypto(?:currency)?\s*(?:wallet)?)\b`)},
	{OffPlatformPayment, regexp.MustCompile(`(?i)\b(?:ebay|craigslist|facebook\s+marketplace|gumtree|offerup)\b`)},
	{ExternalRedirect, regexp.MustCompile(`(?i)\bhttps?://[^\s]+`)},
	{ExternalRedirect, regexp.MustCompile(`(?i)\bwww\.[^\s]+`)},
}

// Scanner screens free-text messages against the rule table. It holds no
// mutable state; identical input always yields an identical result.
type Scanner struct {
	allowedHosts []string
}

// NewScanner creates a Scanner. URLs whose host is (or is a subdomain of)
// one of allowedHosts are not treated as external redirects.
func NewScanner(allowedHosts ...string) *Scanner {
	return &Scanner{allowedHosts: allowedHosts}
}

// Scan inspects text and returns it with violations redacted. Scanning
// never fails: text the rules cannot interpret simply yields no violations.
func (s *Scanner) Scan(text string) Result {
	res := Result{Text: text}
	seen := map[ViolationKind]bool{}

	for _, r := range rules {
		marker := "[redacted:" + string(r.kind) + "]"
		res.Text = r.pattern.ReplaceAllStringFunc(res.Text, func(match string) string {
			if r.kind == ExternalRedirect && s.hostAllowed(match) {
				return match
			}
			if !seen[r.kind] {
				seen[r.kind] = true
				res.Violations = append(res.Violations, r.kind)
			}
			return marker
		})
	}
	res.Flagged = len(res.Violations) > 0
	return res
}

// hostAllowed reports whether a matched URL points at the platform itself.
func (s *Scanner) hostAllowed(match string) bool {
	host := strings.ToLower(match)
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	for _, allowed := range s.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
