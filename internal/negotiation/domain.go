package negotiation

import "time"

// State is the lifecycle state of a negotiation thread.
type State string

const (
	StateOpen      State = "open"
	StateCountered State = "countered"
	StateAccepted  State = "accepted"
	StateRejected  State = "rejected"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is absorbing. A negotiation never
// leaves a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateRejected, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Role identifies which side of the negotiation authored an offer.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Valid reports whether the role is one of the two known parties.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// Offer is one event in a negotiation's history: a price proposal, a pure
// message, or both. The sequence is append-only; entries are never edited.
type Offer struct {
	Seq        int       `json:"seq"`
	Author     Role      `json:"author"`
	Price      *int64    `json:"price,omitempty"` // minor units; nil for a pure message
	Message    string    `json:"message,omitempty"`
	RawMessage string    `json:"-"` // pre-redaction text, kept for audit only
	Flagged    bool      `json:"flagged"`
	Violations []string  `json:"violations,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Negotiation is one price-discussion thread between one buyer and one
// seller over one listing. Prices are minor-unit integers in Currency.
type Negotiation struct {
	ID             string    `json:"id"`
	ListingID      string    `json:"listing_id"`
	SellerID       string    `json:"seller_id"`
	BuyerID        string    `json:"buyer_id"`
	Currency       string    `json:"currency"`
	OriginalPrice  int64     `json:"original_price"`
	CurrentPrice   int64     `json:"current_price"`
	FloorPrice     int64     `json:"floor_price"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Offers         []Offer   `json:"offers"`
	Version        int       `json:"version"`
}

// FloorFor computes the minimum acceptable price for a listing price and a
// maximum discount percentage. The floor is rounded up so the discount never
// exceeds the configured percentage by even a single minor unit.
func FloorFor(price int64, maxDiscountPct int) int64 {
	if maxDiscountPct < 0 {
		maxDiscountPct = 0
	}
	if maxDiscountPct > MaxDiscountPct {
		maxDiscountPct = MaxDiscountPct
	}
	return (price*int64(100-maxDiscountPct) + 99) / 100
}

// MaxDiscountPct is the platform-wide discount ceiling. Sellers may tighten
// it per listing but never loosen it.
const MaxDiscountPct = 30

// lastProposal returns the most recent offer that carried a price, or nil.
func (n *Negotiation) lastProposal() *Offer {
	for i := len(n.Offers) - 1; i >= 0; i-- {
		if n.Offers[i].Price != nil {
			return &n.Offers[i]
		}
	}
	return nil
}

// clone returns a deep copy so callers can read a negotiation without
// racing against in-place mutation under the service lock.
func (n *Negotiation) clone() *Negotiation {
	c := *n
	c.Offers = make([]Offer, len(n.Offers))
	copy(c.Offers, n.Offers)
	for i := range c.Offers {
		if n.Offers[i].Price != nil {
			p := *n.Offers[i].Price
			c.Offers[i].Price = &p
		}
		if n.Offers[i].Violations != nil {
			v := make([]string, len(n.Offers[i].Violations))
			copy(v, n.Offers[i].Violations)
			c.Offers[i].Violations = v
		}
	}
	return &c
}

// View returns a copy shaped for the given viewer. Flagged messages keep
// their redacted text for the counterpart; the author of a flagged message
// still sees what they wrote.
func (n *Negotiation) View(viewer Role) *Negotiation {
	c := n.clone()
	for i := range c.Offers {
		o := &c.Offers[i]
		if o.Flagged && o.Author == viewer {
			o.Message = o.RawMessage
		}
		o.RawMessage = ""
	}
	return c
}
