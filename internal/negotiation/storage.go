package negotiation

import "sync"

// Storage is the main interface for the negotiation storage layer. Create
// must atomically claim the (buyer, listing) active slot, and Update must
// reject stale versions, so the one-active-thread invariant and the event
// order hold even when the store is shared between processes.
type Storage interface {
	Create(n *Negotiation) error
	Read(id string) (*Negotiation, error)
	Update(n *Negotiation) error
	GetAll() ([]*Negotiation, error)
}

// LocalStorage provides an in-memory implementation for storing negotiations.
type LocalStorage struct {
	mu sync.RWMutex
	m  map[string]*Negotiation
	// active maps buyer+listing to the ID of the current non-terminal
	// negotiation for that pair. The uniqueness invariant lives here, in
	// the key design, not in the service.
	active map[string]string
}

// NewLocalStorage instantiates a new LocalStorage with empty indexes.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		m:      map[string]*Negotiation{},
		active: map[string]string{},
	}
}

func pairKey(buyerID, listingID string) string {
	return buyerID + "|" + listingID
}

// Create stores a new negotiation and claims the active slot for its
// (buyer, listing) pair. Returns ErrAlreadyActive if the pair already has a
// non-terminal thread.
func (l *LocalStorage) Create(n *Negotiation) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := pairKey(n.BuyerID, n.ListingID)
	if id, ok := l.active[key]; ok {
		if cur, exists := l.m[id]; exists && !cur.State.Terminal() {
			return ErrAlreadyActive
		}
	}
	l.m[n.ID] = n.clone()
	l.active[key] = n.ID
	return nil
}

// Read retrieves a negotiation by ID. Returns ErrNotFound if absent. The
// result is a copy; mutate it and pass it back through Update.
func (l *LocalStorage) Read(id string) (*Negotiation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.clone(), nil
}

// Update persists a mutated negotiation. The stored version must match the
// version the caller read; on success the version is bumped. A negotiation
// that reached a terminal state releases its active slot.
func (l *LocalStorage) Update(n *Negotiation) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.m[n.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != n.Version {
		return ErrVersionConflict
	}
	n.Version++
	l.m[n.ID] = n.clone()

	if n.State.Terminal() {
		key := pairKey(n.BuyerID, n.ListingID)
		if l.active[key] == n.ID {
			delete(l.active, key)
		}
	}
	return nil
}

// GetAll retrieves all negotiations from the local storage.
func (l *LocalStorage) GetAll() ([]*Negotiation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := make([]*Negotiation, 0, len(l.m))
	for _, n := range l.m {
		all = append(all, n.clone())
	}
	return all, nil
}
