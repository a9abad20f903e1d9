package discount

import (
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

const codesSchema = `
CREATE TABLE IF NOT EXISTS discount_codes (
	code VARCHAR(36) PRIMARY KEY,
	negotiation_id VARCHAR(26) NOT NULL UNIQUE,
	listing_id VARCHAR(64) NOT NULL,
	buyer_id VARCHAR(64) NOT NULL,
	price BIGINT NOT NULL,
	currency VARCHAR(8) NOT NULL,
	issued_at DATETIME(6) NOT NULL,
	expires_at DATETIME(6) NOT NULL,
	status VARCHAR(12) NOT NULL,
	redeemed_at DATETIME(6) NULL
)`

// MySQLStorage implements Storage on a MySQL database. Single-spend is a
// conditional UPDATE on status, so the race between two redeemers is
// settled by the database, not by in-process locking.
type MySQLStorage struct {
	db *sql.DB
}

// NewMySQLStorage creates a MySQL-backed discount code store.
func NewMySQLStorage(db *sql.DB) *MySQLStorage {
	return &MySQLStorage{db: db}
}

// EnsureSchema creates the discount_codes table if it does not exist.
func (r *MySQLStorage) EnsureSchema() error {
	_, err := r.db.Exec(codesSchema)
	return err
}

// Insert stores a new code. The unique key on negotiation_id enforces
// at-most-one code per negotiation.
func (r *MySQLStorage) Insert(c *Code) error {
	query := `
		INSERT INTO discount_codes
			(code, negotiation_id, listing_id, buyer_id, price, currency, issued_at, expires_at, status, redeemed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err := r.db.Exec(query,
		c.Code, c.NegotiationID, c.ListingID, c.BuyerID, c.Price, c.Currency,
		c.IssuedAt, c.ExpiresAt, string(c.Status),
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return ErrAlreadyIssued
	}
	return err
}

// Read retrieves a code. Returns ErrCodeNotFound if absent.
func (r *MySQLStorage) Read(code string) (*Code, error) {
	return r.readWhere("code = ?", code)
}

// ByNegotiation retrieves the code issued for a negotiation.
func (r *MySQLStorage) ByNegotiation(negotiationID string) (*Code, error) {
	return r.readWhere("negotiation_id = ?", negotiationID)
}

func (r *MySQLStorage) readWhere(cond string, arg string) (*Code, error) {
	query := `
		SELECT code, negotiation_id, listing_id, buyer_id, price, currency, issued_at, expires_at, status, redeemed_at
		FROM discount_codes
		WHERE ` + cond
	row := r.db.QueryRow(query, arg)

	var c Code
	var status string
	var redeemedAt sql.NullTime
	err := row.Scan(&c.Code, &c.NegotiationID, &c.ListingID, &c.BuyerID, &c.Price,
		&c.Currency, &c.IssuedAt, &c.ExpiresAt, &status, &redeemedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	c.Status = Status(status)
	if redeemedAt.Valid {
		c.RedeemedAt = &redeemedAt.Time
	}
	return &c, nil
}

// MarkRedeemed flips a code to redeemed if and only if it is still
// unredeemed. Exactly one of two concurrent callers sees an affected row;
// the other is told why it lost.
func (r *MySQLStorage) MarkRedeemed(code string, at time.Time) (*Code, error) {
	query := `
		UPDATE discount_codes
		SET status = ?, redeemed_at = ?
		WHERE code = ? AND status = ?
	`
	res, err := r.db.Exec(query, string(StatusRedeemed), at, code, string(StatusUnredeemed))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		c, readErr := r.Read(code)
		if readErr != nil {
			return nil, readErr
		}
		if c.Status == StatusExpired {
			return nil, ErrCodeExpired
		}
		return nil, ErrAlreadyRedeemed
	}
	return r.Read(code)
}

// MarkExpired moves an unredeemed code to expired. Redeemed codes are left
// alone.
func (r *MySQLStorage) MarkExpired(code string) error {
	query := `
		UPDATE discount_codes
		SET status = ?
		WHERE code = ? AND status = ?
	`
	_, err := r.db.Exec(query, string(StatusExpired), code, string(StatusUnredeemed))
	return err
}

// AllUnredeemed retrieves every code still waiting to be redeemed.
func (r *MySQLStorage) AllUnredeemed() ([]*Code, error) {
	query := `
		SELECT code, negotiation_id, listing_id, buyer_id, price, currency, issued_at, expires_at, status, redeemed_at
		FROM discount_codes
		WHERE status = ?
	`
	rows, err := r.db.Query(query, string(StatusUnredeemed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Code
	for rows.Next() {
		var c Code
		var status string
		var redeemedAt sql.NullTime
		if err := rows.Scan(&c.Code, &c.NegotiationID, &c.ListingID, &c.BuyerID, &c.Price,
			&c.Currency, &c.IssuedAt, &c.ExpiresAt, &status, &redeemedAt); err != nil {
			return nil, err
		}
		c.Status = Status(status)
		if redeemedAt.Valid {
			c.RedeemedAt = &redeemedAt.Time
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
