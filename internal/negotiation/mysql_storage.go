package negotiation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const negotiationsSchema = `
CREATE TABLE IF NOT EXISTS negotiations (
	id VARCHAR(26) PRIMARY KEY,
	listing_id VARCHAR(64) NOT NULL,
	seller_id VARCHAR(64) NOT NULL,
	buyer_id VARCHAR(64) NOT NULL,
	currency VARCHAR(8) NOT NULL,
	original_price BIGINT NOT NULL,
	current_price BIGINT NOT NULL,
	floor_price BIGINT NOT NULL,
	state VARCHAR(16) NOT NULL,
	created_at DATETIME(6) NOT NULL,
	last_activity_at DATETIME(6) NOT NULL,
	expires_at DATETIME(6) NOT NULL,
	offers JSON NOT NULL,
	version INT NOT NULL,
	active TINYINT NULL,
	UNIQUE KEY uniq_active_pair (buyer_id, listing_id, active)
)`

// MySQLStorage implements Storage on a MySQL database. The
// one-active-thread-per-pair invariant is a unique key over
// (buyer_id, listing_id, active): active is 1 while the thread is
// non-terminal and NULL once it closes, and NULLs never collide.
type MySQLStorage struct {
	db *sql.DB
}

// NewMySQLStorage creates a MySQL-backed negotiation store.
func NewMySQLStorage(db *sql.DB) *MySQLStorage {
	return &MySQLStorage{db: db}
}

// EnsureSchema creates the negotiations table if it does not exist.
func (r *MySQLStorage) EnsureSchema() error {
	_, err := r.db.Exec(negotiationsSchema)
	return err
}

// storedOffer is the JSON shape persisted in the offers column. It carries
// the raw pre-redaction message for audit, which the API-facing Offer
// deliberately never serializes.
type storedOffer struct {
	Seq        int       `json:"seq"`
	Author     Role      `json:"author"`
	Price      *int64    `json:"price,omitempty"`
	Message    string    `json:"message,omitempty"`
	RawMessage string    `json:"raw_message,omitempty"`
	Flagged    bool      `json:"flagged"`
	Violations []string  `json:"violations,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func encodeOffers(offers []Offer) ([]byte, error) {
	stored := make([]storedOffer, len(offers))
	for i, o := range offers {
		stored[i] = storedOffer(o)
	}
	return json.Marshal(stored)
}

func decodeOffers(raw []byte) ([]Offer, error) {
	var stored []storedOffer
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	offers := make([]Offer, len(stored))
	for i, o := range stored {
		offers[i] = Offer(o)
	}
	return offers, nil
}

func activeFlag(s State) any {
	if s.Terminal() {
		return nil
	}
	return 1
}

// Create inserts a new negotiation. A colliding active pair surfaces as a
// MySQL duplicate-key error and maps to ErrAlreadyActive.
func (r *MySQLStorage) Create(n *Negotiation) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	offers, err := encodeOffers(n.Offers)
	if err != nil {
		return fmt.Errorf("encoding offers: %w", err)
	}
	query := `
		INSERT INTO negotiations
			(id, listing_id, seller_id, buyer_id, currency, original_price, current_price,
			 floor_price, state, created_at, last_activity_at, expires_at, offers, version, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query,
		n.ID, n.ListingID, n.SellerID, n.BuyerID, n.Currency, n.OriginalPrice, n.CurrentPrice,
		n.FloorPrice, string(n.State), n.CreatedAt, n.LastActivityAt, n.ExpiresAt, offers, n.Version, activeFlag(n.State),
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return ErrAlreadyActive
	}
	return err
}

// Read retrieves a negotiation by ID. Returns ErrNotFound if absent.
func (r *MySQLStorage) Read(id string) (*Negotiation, error) {
	query := `
		SELECT id, listing_id, seller_id, buyer_id, currency, original_price, current_price,
		       floor_price, state, created_at, last_activity_at, expires_at, offers, version
		FROM negotiations
		WHERE id = ?
	`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *MySQLStorage) scanOne(row *sql.Row) (*Negotiation, error) {
	var n Negotiation
	var state string
	var offers []byte
	err := row.Scan(&n.ID, &n.ListingID, &n.SellerID, &n.BuyerID, &n.Currency,
		&n.OriginalPrice, &n.CurrentPrice, &n.FloorPrice, &state,
		&n.CreatedAt, &n.LastActivityAt, &n.ExpiresAt, &offers, &n.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	n.State = State(state)
	if n.Offers, err = decodeOffers(offers); err != nil {
		return nil, fmt.Errorf("decoding offers: %w", err)
	}
	return &n, nil
}

// Update writes a mutated negotiation back, guarded by the version the
// caller read. Zero rows affected means either the row vanished or another
// writer got there first.
func (r *MySQLStorage) Update(n *Negotiation) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	offers, err := encodeOffers(n.Offers)
	if err != nil {
		return fmt.Errorf("encoding offers: %w", err)
	}
	query := `
		UPDATE negotiations
		SET current_price = ?, state = ?, last_activity_at = ?, offers = ?,
		    version = version + 1, active = ?
		WHERE id = ? AND version = ?
	`
	res, err := r.db.Exec(query,
		n.CurrentPrice, string(n.State), n.LastActivityAt, offers,
		activeFlag(n.State), n.ID, n.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, readErr := r.Read(n.ID); errors.Is(readErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	n.Version++
	return nil
}

// GetAll retrieves all negotiations.
func (r *MySQLStorage) GetAll() ([]*Negotiation, error) {
	query := `
		SELECT id, listing_id, seller_id, buyer_id, currency, original_price, current_price,
		       floor_price, state, created_at, last_activity_at, expires_at, offers, version
		FROM negotiations
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []*Negotiation
	for rows.Next() {
		var n Negotiation
		var state string
		var offers []byte
		if err := rows.Scan(&n.ID, &n.ListingID, &n.SellerID, &n.BuyerID, &n.Currency,
			&n.OriginalPrice, &n.CurrentPrice, &n.FloorPrice, &state,
			&n.CreatedAt, &n.LastActivityAt, &n.ExpiresAt, &offers, &n.Version); err != nil {
			return nil, err
		}
		n.State = State(state)
		if n.Offers, err = decodeOffers(offers); err != nil {
			return nil, fmt.Errorf("decoding offers: %w", err)
		}
		all = append(all, &n)
	}
	return all, rows.Err()
}
