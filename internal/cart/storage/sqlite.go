// Package storage persists the pending cart in a local SQLite database so a
// crash or restart does not lose it. The cart lives as a single JSON record
// under one well-known key, mirroring the record shape read by the UI layer.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"soko-orders/internal/domain"
)

// CartKey is the single well-known key the pending cart is stored under.
const CartKey = "local_vendor_cart"

// persistedCart is the on-disk record. vendorId is nullable: an empty cart
// round-trips as null, not "".
type persistedCart struct {
	VendorID   *string         `json:"vendorId"`
	VendorName string          `json:"vendorName"`
	Items      []persistedLine `json:"items"`
	Total      int64           `json:"total"`
}

type persistedLine struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Qty   int    `json:"qty"`
}

// SQLiteStore implements cart.Repository on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// Open opens (creating if needed) the cart database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers unblocked; a single writer is all a local cart needs.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cart_state (
		key        TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cart_state: %w", err)
	}

	return &SQLiteStore{db: db, key: CartKey}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load reads the persisted cart. found is false when nothing was ever saved.
func (s *SQLiteStore) Load(ctx context.Context) (domain.Cart, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cart_state WHERE key = ?`, s.key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("load cart: %w", err)
	}

	var rec persistedCart
	if err := json.Unmarshal(payload, &rec); err != nil {
		return domain.Cart{}, false, fmt.Errorf("decode cart: %w", err)
	}
	return fromRecord(rec), true, nil
}

// Save upserts the cart under the well-known key.
func (s *SQLiteStore) Save(ctx context.Context, cart domain.Cart) error {
	payload, err := json.Marshal(toRecord(cart))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO cart_state (key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.key, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func toRecord(c domain.Cart) persistedCart {
	rec := persistedCart{
		VendorName: c.VendorName,
		Items:      make([]persistedLine, 0, len(c.Items)),
		Total:      int64(c.Total),
	}
	if c.VendorID != "" {
		v := c.VendorID
		rec.VendorID = &v
	}
	for _, ln := range c.Items {
		rec.Items = append(rec.Items, persistedLine{
			ID:    ln.ItemID,
			Name:  ln.Name,
			Price: int64(ln.UnitPrice),
			Qty:   ln.Qty,
		})
	}
	return rec
}

func fromRecord(rec persistedCart) domain.Cart {
	c := domain.Cart{
		VendorName: rec.VendorName,
		Items:      make([]domain.CartLine, 0, len(rec.Items)),
		Total:      domain.Money(rec.Total),
	}
	if rec.VendorID != nil {
		c.VendorID = *rec.VendorID
	}
	for _, ln := range rec.Items {
		c.Items = append(c.Items, domain.CartLine{
			ItemID:    ln.ID,
			Name:      ln.Name,
			UnitPrice: domain.Money(ln.Price),
			Qty:       ln.Qty,
		})
	}
	return c
}
