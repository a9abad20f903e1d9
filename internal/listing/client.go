package listing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned when the listing service has no such listing.
var ErrNotFound = errors.New("listing not found")

// Listing is the read-only snapshot the engine needs from the listing
// service: the seller, the asking price, and an optional tightened discount
// ceiling. Price is a minor-unit integer.
type Listing struct {
	ID             string `json:"id"`
	SellerID       string `json:"seller_id"`
	Price          int64  `json:"price"`
	Currency       string `json:"currency"`
	MaxDiscountPct *int   `json:"max_discount_pct,omitempty"`
}

// Client looks up listings over HTTP from the listing service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a listing client against the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Get fetches one listing by ID. Returns ErrNotFound on a 404 from the
// listing service.
func (c *Client) Get(listingID string) (*Listing, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, listingID)
	resp, err := c.http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("error making request to listing API: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var l Listing
		if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
			return nil, fmt.Errorf("error decoding listing response: %w", err)
		}
		if l.ID == "" {
			l.ID = listingID
		}
		return &l, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("listing API returned unexpected status: %d", resp.StatusCode)
	}
}
