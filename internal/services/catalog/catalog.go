// Package catalog reads clients and products from the line-of-business
// database. Nothing here ever writes to that store.
package catalog

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Product struct {
	Code       string          `json:"code"`
	Label      string          `json:"label"`
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit,omitempty"`
	Stock      *int            `json:"stock,omitempty"`
	OrderCount int             `json:"order_count"`
	Tags       []string        `json:"tags,omitempty"`
}

func (p Product) HasTag(code string) bool {
	for _, t := range p.Tags {
		if t == code {
			return true
		}
	}
	return false
}

// ClientRef identifies a client of the external store by its code.
type ClientRef struct {
	Code string
}

func (r ClientRef) Valid() bool {
	return strings.TrimSpace(r.Code) != ""
}

type Client struct {
	Code       string `json:"code" db:"code"`
	Name       string `json:"name" db:"name"`
	Complement string `json:"complement" db:"complement"`
	Address    string `json:"address" db:"address"`
	PostalCode string `json:"postal_code" db:"postal_code"`
	City       string `json:"city" db:"city"`
}

// DisplayName appends the complement when the client has several delivery
// addresses.
func (c Client) DisplayName() string {
	if strings.TrimSpace(c.Complement) == "" {
		return c.Name
	}
	return c.Name + " - " + c.Complement
}

type Source interface {
	Products(ctx context.Context, ref ClientRef) ([]Product, error)
	// Product returns nil without error when ref is not in the client catalog.
	Product(ctx context.Context, ref ClientRef, code string) (*Product, error)
}

type Directory interface {
	// Client returns nil without error when no entry exists for ref.
	Client(ctx context.Context, ref ClientRef) (*Client, error)
	Search(ctx context.Context, query string, limit int) ([]Client, error)
	CountClients(ctx context.Context) (int, error)
}

// ProductsOrEmpty treats an unreachable source as an empty catalog.
func ProductsOrEmpty(ctx context.Context, src Source, ref ClientRef) []Product {
	if !ref.Valid() {
		return nil
	}
	products, err := src.Products(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("client", ref.Code).Msg("catalog unavailable, rendering empty list")
		return nil
	}
	return products
}

// ClientName resolves the display name of a client. ok is false when the
// client is unknown or the directory cannot be reached.
func ClientName(ctx context.Context, dir Directory, ref ClientRef) (string, bool) {
	if dir == nil || !ref.Valid() {
		return "", false
	}
	c, err := dir.Client(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("client", ref.Code).Msg("client directory unavailable")
		return "", false
	}
	if c == nil {
		return "", false
	}
	return c.Name, true
}
