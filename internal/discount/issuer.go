package discount

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validity is how long an issued code stays redeemable.
const Validity = 48 * time.Hour

// Status is the redemption state of a discount code.
type Status string

const (
	StatusUnredeemed Status = "unredeemed"
	StatusRedeemed   Status = "redeemed"
	StatusExpired    Status = "expired"
)

// Code is a single-use token redeemable at checkout for the agreed price.
// It is bound to the negotiation that produced it and is non-transferable.
type Code struct {
	Code          string     `json:"code"`
	NegotiationID string     `json:"negotiation_id"`
	ListingID     string     `json:"listing_id"`
	BuyerID       string     `json:"buyer_id"`
	Price         int64      `json:"price"`
	Currency      string     `json:"currency"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Status        Status     `json:"status"`
	RedeemedAt    *time.Time `json:"redeemed_at,omitempty"`
}

// ErrAlreadyIssued is returned when a negotiation already produced a code.
var ErrAlreadyIssued = errors.New("discount code already issued for negotiation")

// ErrCodeNotFound is returned when no code matches the given string.
var ErrCodeNotFound = errors.New("discount code not found")

// ErrCodeExpired is returned when a code is redeemed past its expiry.
var ErrCodeExpired = errors.New("discount code expired")

// ErrAlreadyRedeemed is returned when a code was already spent.
var ErrAlreadyRedeemed = errors.New("discount code already redeemed")

// ErrMismatch is returned when the redeeming listing or buyer does not
// match the identifiers the code is bound to.
var ErrMismatch = errors.New("code is bound to a different listing or buyer")

// Issuer mints and redeems discount codes on a Storage backend.
type Issuer struct {
	storage Storage
	logger  *zap.Logger
	Now     func() time.Time
}

// NewIssuer creates a new Issuer.
func NewIssuer(storage Storage, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{
		storage: storage,
		logger:  logger,
		Now:     time.Now,
	}
}

// Issue mints a code for an accepted negotiation. At most one code exists
// per negotiation; a second call returns ErrAlreadyIssued.
func (i *Issuer) Issue(negotiationID, listingID, buyerID string, price int64, currency string) (*Code, error) {
	now := i.Now()
	code := &Code{
		Code:          uuid.NewString(),
		NegotiationID: negotiationID,
		ListingID:     listingID,
		BuyerID:       buyerID,
		Price:         price,
		Currency:      currency,
		IssuedAt:      now,
		ExpiresAt:     now.Add(Validity),
		Status:        StatusUnredeemed,
	}
	if err := i.storage.Insert(code); err != nil {
		return nil, err
	}
	i.logger.Info("discount code issued",
		zap.String("negotiation_id", negotiationID),
		zap.String("listing_id", listingID),
		zap.Int64("price", price),
	)
	return code, nil
}

// ForNegotiation returns the code a negotiation produced, if any.
func (i *Issuer) ForNegotiation(negotiationID string) (*Code, error) {
	return i.storage.ByNegotiation(negotiationID)
}

// Redeem spends a code. The state check and the transition to redeemed
// happen as one step in storage, so two concurrent redemptions of the same
// code succeed exactly once. Expiry is checked against the clock here, not
// only against what the sweeper managed to mark.
func (i *Issuer) Redeem(code, listingID, buyerID string) (*Code, error) {
	c, err := i.storage.Read(code)
	if err != nil {
		return nil, err
	}
	if c.ListingID != listingID || c.BuyerID != buyerID {
		return nil, ErrMismatch
	}
	now := i.Now()
	if c.Status == StatusExpired || now.After(c.ExpiresAt) {
		return nil, ErrCodeExpired
	}
	redeemed, err := i.storage.MarkRedeemed(code, now)
	if err != nil {
		return nil, err
	}
	i.logger.Info("discount code redeemed",
		zap.String("negotiation_id", redeemed.NegotiationID),
		zap.String("listing_id", listingID),
		zap.Int64("price", redeemed.Price),
	)
	return redeemed, nil
}

// ExpireDue marks every unredeemed code past its expiry as expired and
// returns how many were transitioned. A failure on one code is logged and
// skipped; the rest of the batch still runs.
func (i *Issuer) ExpireDue() (int, error) {
	pending, err := i.storage.AllUnredeemed()
	if err != nil {
		return 0, fmt.Errorf("listing unredeemed codes: %w", err)
	}
	now := i.Now()
	expired := 0
	for _, c := range pending {
		if !now.After(c.ExpiresAt) {
			continue
		}
		if err := i.storage.MarkExpired(c.Code); err != nil {
			i.logger.Warn("failed to expire discount code",
				zap.String("negotiation_id", c.NegotiationID),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}
