package discount

import (
	"sync"
	"time"
)

// Storage is the interface for the discount code storage layer. Insert
// enforces at-most-one code per negotiation; MarkRedeemed and MarkExpired
// are conditional on the code still being unredeemed.
type Storage interface {
	Insert(c *Code) error
	Read(code string) (*Code, error)
	ByNegotiation(negotiationID string) (*Code, error)
	MarkRedeemed(code string, at time.Time) (*Code, error)
	MarkExpired(code string) error
	AllUnredeemed() ([]*Code, error)
}

// LocalStorage provides an in-memory implementation for storing codes.
type LocalStorage struct {
	mu            sync.Mutex
	byCode        map[string]*Code
	byNegotiation map[string]string
}

// NewLocalStorage instantiates a new LocalStorage for discount codes.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		byCode:        map[string]*Code{},
		byNegotiation: map[string]string{},
	}
}

// Insert stores a new code. Returns ErrAlreadyIssued if the negotiation
// already has one.
func (l *LocalStorage) Insert(c *Code) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byNegotiation[c.NegotiationID]; ok {
		return ErrAlreadyIssued
	}
	cp := *c
	l.byCode[c.Code] = &cp
	l.byNegotiation[c.NegotiationID] = c.Code
	return nil
}

// Read retrieves a code. Returns ErrCodeNotFound if absent.
func (l *LocalStorage) Read(code string) (*Code, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byCode[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

// ByNegotiation retrieves the code issued for a negotiation.
func (l *LocalStorage) ByNegotiation(negotiationID string) (*Code, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	code, ok := l.byNegotiation[negotiationID]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *l.byCode[code]
	return &cp, nil
}

// MarkRedeemed flips a code from unredeemed to redeemed under the store
// lock. The check and the write are one step; the losing caller of a
// concurrent double redemption gets ErrAlreadyRedeemed.
func (l *LocalStorage) MarkRedeemed(code string, at time.Time) (*Code, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byCode[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	switch c.Status {
	case StatusRedeemed:
		return nil, ErrAlreadyRedeemed
	case StatusExpired:
		return nil, ErrCodeExpired
	}
	c.Status = StatusRedeemed
	c.RedeemedAt = &at
	cp := *c
	return &cp, nil
}

// MarkExpired moves an unredeemed code to expired. Redeemed codes are left
// alone.
func (l *LocalStorage) MarkExpired(code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byCode[code]
	if !ok {
		return ErrCodeNotFound
	}
	if c.Status == StatusUnredeemed {
		c.Status = StatusExpired
	}
	return nil
}

// AllUnredeemed retrieves every code still waiting to be redeemed.
func (l *LocalStorage) AllUnredeemed() ([]*Code, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Code, 0)
	for _, c := range l.byCode {
		if c.Status == StatusUnredeemed {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}
