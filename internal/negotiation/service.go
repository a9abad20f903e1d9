package negotiation

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"api_negotiations/internal/discount"
	"api_negotiations/internal/listing"
	"api_negotiations/internal/policy"
)

// TTL is how long a negotiation stays open. The deadline is fixed at
// creation; activity does not extend it.
const TTL = 7 * 24 * time.Hour

// ListingDirectory is the read-only collaborator that resolves a listing to
// its seller, price and discount ceiling.
type ListingDirectory interface {
	Get(listingID string) (*listing.Listing, error)
}

// Service owns the lifecycle of negotiation threads on a Storage backend.
// Every mutation of a single negotiation runs under that negotiation's own
// lock; different negotiations never contend.
type Service struct {
	storage  Storage
	listings ListingDirectory
	issuer   *discount.Issuer
	scanner  *policy.Scanner
	logger   *zap.Logger
	Now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Metadata summarizes a list query result.
type Metadata struct {
	Quantity  int `json:"quantity"`
	Open      int `json:"open"`
	Countered int `json:"countered"`
}

// NewService creates a new Service.
func NewService(storage Storage, listings ListingDirectory, issuer *discount.Issuer, scanner *policy.Scanner, logger *zap.Logger) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if scanner == nil {
		scanner = policy.NewScanner()
	}
	return &Service{
		storage:  storage,
		listings: listings,
		issuer:   issuer,
		scanner:  scanner,
		logger:   logger,
		Now:      time.Now,
		locks:    map[string]*sync.Mutex{},
	}
}

// lockFor returns the mutex serializing one negotiation's transitions.
func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func newNegotiationID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// Create opens a new negotiation thread for a buyer on a listing. The
// listing price, the seller, the floor and the expiry deadline are
// snapshotted here and never change afterwards.
func (s *Service) Create(buyerID, listingID string) (*Negotiation, error) {
	if buyerID == "" || listingID == "" {
		return nil, fmt.Errorf("buyer_id and listing_id are required")
	}

	l, err := s.listings.Get(listingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("error validating listing", zap.String("listing_id", listingID), zap.Error(err))
		return nil, fmt.Errorf("error validating listing")
	}
	if l.SellerID == buyerID {
		return nil, fmt.Errorf("buyer cannot negotiate own listing")
	}
	if l.Price <= 0 {
		return nil, fmt.Errorf("listing has no negotiable price")
	}

	pct := MaxDiscountPct
	if l.MaxDiscountPct != nil && *l.MaxDiscountPct < pct {
		pct = *l.MaxDiscountPct
	}
	currency := l.Currency
	if currency == "" {
		currency = "USD"
	}

	now := s.Now()
	n := &Negotiation{
		ID:             newNegotiationID(),
		ListingID:      listingID,
		SellerID:       l.SellerID,
		BuyerID:        buyerID,
		Currency:       currency,
		OriginalPrice:  l.Price,
		CurrentPrice:   l.Price,
		FloorPrice:     FloorFor(l.Price, pct),
		State:          StateOpen,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(TTL),
		Version:        1,
	}

	if err := s.storage.Create(n); err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			return nil, err
		}
		s.logger.Error("failed to save negotiation", zap.String("negotiation_id", n.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to save negotiation: %w", err)
	}

	s.logger.Info("negotiation created",
		zap.String("negotiation_id", n.ID),
		zap.String("listing_id", listingID),
		zap.Int64("original_price", n.OriginalPrice),
		zap.Int64("floor_price", n.FloorPrice),
	)
	return n, nil
}

// Propose submits a price proposal, optionally with a message. Proposals
// must alternate between the parties; the price must stay within
// [floor, original]. A proposal never extends the expiry deadline.
func (s *Service) Propose(id string, actor Role, price int64, message string) (*Negotiation, error) {
	if !actor.Valid() {
		return nil, ErrInvalidActor
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.storage.Read(id)
	if err != nil {
		return nil, err
	}
	if n.State.Terminal() {
		return n, ErrTerminal
	}
	if price < n.FloorPrice || price > n.OriginalPrice {
		s.logger.Warn("proposal outside price bounds",
			zap.String("negotiation_id", id),
			zap.Int64("price", price),
			zap.Int64("floor", n.FloorPrice),
		)
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPrice, price, n.FloorPrice, n.OriginalPrice)
	}
	if last := n.lastProposal(); last != nil && last.Author == actor {
		return nil, ErrWrongTurn
	}

	s.appendOffer(n, actor, &price, message)
	n.CurrentPrice = price
	n.State = StateCountered
	n.LastActivityAt = s.Now()

	if err := s.storage.Update(n); err != nil {
		s.logger.Error("failed to update negotiation", zap.String("negotiation_id", id), zap.Error(err))
		return nil, err
	}
	s.logger.Info("price proposed",
		zap.String("negotiation_id", id),
		zap.String("actor", string(actor)),
		zap.Int64("price", price),
	)
	return n, nil
}

// Message appends a pure message to the thread. Messages do not change the
// price, the state or the turn order, but they are screened and flagged
// content is redacted for the counterpart.
func (s *Service) Message(id string, actor Role, text string) (*Negotiation, error) {
	if !actor.Valid() {
		return nil, ErrInvalidActor
	}
	if text == "" {
		return nil, fmt.Errorf("message must not be empty")
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.storage.Read(id)
	if err != nil {
		return nil, err
	}
	if n.State.Terminal() {
		return n, ErrTerminal
	}

	s.appendOffer(n, actor, nil, text)
	n.LastActivityAt = s.Now()

	if err := s.storage.Update(n); err != nil {
		s.logger.Error("failed to update negotiation", zap.String("negotiation_id", id), zap.Error(err))
		return nil, err
	}
	return n, nil
}

// appendOffer scans the message, assigns the next sequence number and
// appends the event. Callers hold the negotiation lock, so sequence
// numbers are gap-free and strictly increasing.
func (s *Service) appendOffer(n *Negotiation, actor Role, price *int64, message string) {
	o := Offer{
		Seq:       len(n.Offers) + 1,
		Author:    actor,
		Price:     price,
		CreatedAt: s.Now(),
	}
	if message != "" {
		res := s.scanner.Scan(message)
		o.Message = res.Text
		o.RawMessage = message
		o.Flagged = res.Flagged
		for _, v := range res.Violations {
			o.Violations = append(o.Violations, string(v))
		}
		if res.Flagged {
			s.logger.Warn("message flagged by policy scan",
				zap.String("negotiation_id", n.ID),
				zap.String("actor", string(actor)),
				zap.Any("violations", o.Violations),
			)
		}
	}
	n.Offers = append(n.Offers, o)
}

// Accept closes the negotiation at the outstanding proposed price. Only
// the party that did not make the latest proposal may accept, and the
// price it sends must match that proposal. On success a discount code for
// the agreed price is issued. Replaying accept against a negotiation that
// is already terminal returns the stored record unchanged.
func (s *Service) Accept(id string, actor Role, price int64) (*Negotiation, *discount.Code, error) {
	if !actor.Valid() {
		return nil, nil, ErrInvalidActor
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.storage.Read(id)
	if err != nil {
		return nil, nil, err
	}
	if n.State.Terminal() {
		var code *discount.Code
		if n.State == StateAccepted {
			code, _ = s.issuer.ForNegotiation(id)
		}
		return n, code, nil
	}
	if n.State != StateCountered {
		return nil, nil, ErrNothingToAccept
	}
	last := n.lastProposal()
	if last == nil {
		return nil, nil, ErrNothingToAccept
	}
	if last.Author == actor {
		return nil, nil, ErrWrongTurn
	}
	if price != n.CurrentPrice {
		return nil, nil, fmt.Errorf("%w: outstanding proposal is %d", ErrNothingToAccept, n.CurrentPrice)
	}

	n.State = StateAccepted
	n.LastActivityAt = s.Now()
	if err := s.storage.Update(n); err != nil {
		s.logger.Error("failed to update negotiation", zap.String("negotiation_id", id), zap.Error(err))
		return nil, nil, err
	}

	code, err := s.issuer.Issue(id, n.ListingID, n.BuyerID, n.CurrentPrice, n.Currency)
	if errors.Is(err, discount.ErrAlreadyIssued) {
		code, err = s.issuer.ForNegotiation(id)
	}
	if err != nil {
		s.logger.Error("failed to issue discount code", zap.String("negotiation_id", id), zap.Error(err))
		return nil, nil, fmt.Errorf("negotiation accepted but code issuance failed: %w", err)
	}

	s.logger.Info("negotiation accepted",
		zap.String("negotiation_id", id),
		zap.String("actor", string(actor)),
		zap.Int64("agreed_price", n.CurrentPrice),
	)
	return n, code, nil
}

// Reject closes the negotiation without agreement. Terminal replays return
// the stored record unchanged.
func (s *Service) Reject(id string, actor Role) (*Negotiation, error) {
	if !actor.Valid() {
		return nil, ErrInvalidActor
	}
	return s.close(id, actor, StateRejected)
}

// Cancel withdraws the thread. Only the initiating party may cancel, and
// only before the counterpart has made a price proposal. Terminal replays
// return the stored record unchanged.
func (s *Service) Cancel(id string, actor Role) (*Negotiation, error) {
	if !actor.Valid() {
		return nil, ErrInvalidActor
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.storage.Read(id)
	if err != nil {
		return nil, err
	}
	if n.State.Terminal() {
		return n, nil
	}

	initiator := RoleBuyer
	for _, o := range n.Offers {
		if o.Price != nil {
			initiator = o.Author
			break
		}
	}
	if actor != initiator {
		return nil, ErrCancelDenied
	}
	for _, o := range n.Offers {
		if o.Price != nil && o.Author != initiator {
			return nil, ErrCancelDenied
		}
	}

	n.State = StateCancelled
	n.LastActivityAt = s.Now()
	if err := s.storage.Update(n); err != nil {
		s.logger.Error("failed to update negotiation", zap.String("negotiation_id", id), zap.Error(err))
		return nil, err
	}
	s.logger.Info("negotiation cancelled", zap.String("negotiation_id", id), zap.String("actor", string(actor)))
	return n, nil
}

// Expire moves a negotiation past its deadline to the expired state. It is
// driven by the sweeper only, is idempotent, and leaves negotiations that
// have not yet reached their deadline untouched.
func (s *Service) Expire(id string) (*Negotiation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.storage.Read(id)
	if err != nil {
		return nil, err
	}
	if n.State.Terminal() {
		return n, nil
	}
	if !s.Now().After(n.ExpiresAt) {
		return n, nil
	}

	n.State = StateExpired
	if err := s.storage.Update(n); err != nil {
		s.logger.Error("failed to expire negotiation", zap.String("negotiation_id", id), zap.Error(err))
		return nil, err
	}
	s.logger.Info("negotiation expired", zap.String("negotiation_id", id))
	return n, nil
}

// close applies a terminal transition shared by Reject.
func (s *Service) close(id string, actor Role, terminal State) (*Negotiation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.storage.Read(id)
	if err != nil {
		return nil, err
	}
	if n.State.Terminal() {
		return n, nil
	}

	n.State = terminal
	n.LastActivityAt = s.Now()
	if err := s.storage.Update(n); err != nil {
		s.logger.Error("failed to update negotiation", zap.String("negotiation_id", id), zap.Error(err))
		return nil, err
	}
	s.logger.Info("negotiation closed",
		zap.String("negotiation_id", id),
		zap.String("state", string(terminal)),
		zap.String("actor", string(actor)),
	)
	return n, nil
}

// Get retrieves one negotiation with its full offer history.
func (s *Service) Get(id string) (*Negotiation, error) {
	return s.storage.Read(id)
}

// ListActive returns the non-terminal negotiations matching the provided
// filters, plus summary metadata.
func (s *Service) ListActive(buyerID, sellerID, listingID string) ([]*Negotiation, Metadata, error) {
	all, err := s.storage.GetAll()
	if err != nil {
		s.logger.Error("failed to get all negotiations from storage", zap.Error(err))
		return nil, Metadata{}, fmt.Errorf("failed to retrieve negotiations: %w", err)
	}

	results := make([]*Negotiation, 0)
	metadata := Metadata{}
	for _, n := range all {
		if n.State.Terminal() {
			continue
		}
		if buyerID != "" && n.BuyerID != buyerID {
			continue
		}
		if sellerID != "" && n.SellerID != sellerID {
			continue
		}
		if listingID != "" && n.ListingID != listingID {
			continue
		}
		results = append(results, n)
		metadata.Quantity++
		switch n.State {
		case StateOpen:
			metadata.Open++
		case StateCountered:
			metadata.Countered++
		}
	}
	return results, metadata, nil
}

// DueForExpiry returns the IDs of active negotiations past their deadline.
func (s *Service) DueForExpiry() ([]string, error) {
	all, err := s.storage.GetAll()
	if err != nil {
		return nil, err
	}
	now := s.Now()
	var due []string
	for _, n := range all {
		if !n.State.Terminal() && now.After(n.ExpiresAt) {
			due = append(due, n.ID)
		}
	}
	return due, nil
}
