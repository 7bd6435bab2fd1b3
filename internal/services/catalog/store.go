package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Store implements Source and Directory on top of the external tables
// catalogue, prod, comclilig and comcli.
type Store struct {
	db *sqlx.DB
}

// Open prepares the connection pool without dialing, so the extranet starts
// even when the external store is down. driver is "postgres" or "mysql".
func Open(driver, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("catalog DSN is required")
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewStore(db), nil
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

type productRow struct {
	Code       string          `db:"code"`
	Label      string          `db:"label"`
	Price      decimal.Decimal `db:"price"`
	OrderCount decimal.Decimal `db:"order_count"`
}

func (r productRow) toProduct() Product {
	return Product{
		Code:       r.Code,
		Label:      r.Label,
		Price:      r.Price,
		OrderCount: int(r.OrderCount.IntPart()),
	}
}

// productsQuery returns one row per product of a client catalog. comclilig
// holds one row per historical order line, so it is collapsed per product
// first.
const productsQuery = `
SELECT c.prod AS code,
       COALESCE(p.libelle, c.prod) AS label,
       COALESCE(l.pu_base, 0) AS price,
       COALESCE(l.qte, 0) AS order_count
FROM (SELECT DISTINCT prod FROM catalogue WHERE tiers = ?) c
LEFT JOIN prod p ON p.prod = c.prod
LEFT JOIN (
    SELECT prod, MAX(pu_base) AS pu_base, SUM(qte) AS qte
    FROM comclilig
    GROUP BY prod
) l ON l.prod = c.prod`

func (s *Store) Products(ctx context.Context, ref ClientRef) ([]Product, error) {
	if !ref.Valid() {
		return nil, nil
	}

	var rows []productRow
	query := s.db.Rebind(productsQuery + " ORDER BY c.prod")
	if err := s.db.SelectContext(ctx, &rows, query, ref.Code); err != nil {
		return nil, fmt.Errorf("catalog: list products for %s: %w", ref.Code, err)
	}

	products := make([]Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toProduct())
	}
	return products, nil
}

func (s *Store) Product(ctx context.Context, ref ClientRef, code string) (*Product, error) {
	if !ref.Valid() || code == "" {
		return nil, nil
	}

	var row productRow
	query := s.db.Rebind(productsQuery + " WHERE c.prod = ?")
	err := s.db.GetContext(ctx, &row, query, ref.Code, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get product %s for %s: %w", code, ref.Code, err)
	}
	p := row.toProduct()
	return &p, nil
}

const clientColumns = `
SELECT tiers AS code,
       nom AS name,
       COALESCE(complement, '') AS complement,
       COALESCE(adresse, '') AS address,
       COALESCE(cp, '') AS postal_code,
       COALESCE(acheminement, '') AS city
FROM comcli`

// Client prefers the main entry (empty complement) and falls back to the
// first alternative by complement then name.
func (s *Store) Client(ctx context.Context, ref ClientRef) (*Client, error) {
	if !ref.Valid() {
		return nil, nil
	}

	var c Client
	query := s.db.Rebind(clientColumns + ` WHERE tiers = ? AND (complement IS NULL OR TRIM(complement) = '') LIMIT 1`)
	err := s.db.GetContext(ctx, &c, query, ref.Code)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: get client %s: %w", ref.Code, err)
	}

	query = s.db.Rebind(clientColumns + ` WHERE tiers = ? ORDER BY complement, nom LIMIT 1`)
	err = s.db.GetContext(ctx, &c, query, ref.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get client %s: %w", ref.Code, err)
	}
	return &c, nil
}

// Search matches the client code prefix or a substring of the name or
// complement, one row per delivery address.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Client, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var clients []Client
	stmt := s.db.Rebind(`
SELECT tiers AS code,
       MAX(nom) AS name,
       COALESCE(complement, '') AS complement
FROM comcli
WHERE tiers != 0
  AND (CAST(tiers AS CHAR(20)) LIKE ? OR LOWER(nom) LIKE ? OR LOWER(COALESCE(complement, '')) LIKE ?)
GROUP BY tiers, complement
ORDER BY name, complement
LIMIT ?`)
	like := "%" + query + "%"
	if err := s.db.SelectContext(ctx, &clients, stmt, query+"%", like, like, limit); err != nil {
		return nil, fmt.Errorf("catalog: search clients: %w", err)
	}
	return clients, nil
}

func (s *Store) CountClients(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM (SELECT 1 FROM comcli WHERE tiers != 0 GROUP BY tiers, complement) t`)
	if err != nil {
		return 0, fmt.Errorf("catalog: count clients: %w", err)
	}
	return n, nil
}
