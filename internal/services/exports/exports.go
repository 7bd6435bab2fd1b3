// Package exports manages the per-order CSV files picked up by the ERP.
package exports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"extranet-system/internal/database/models"
)

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path is the file an order number is exported to. Only the base name of
// number is used.
func (s *Store) Path(number string) string {
	return filepath.Join(s.dir, filepath.Base(number)+".csv")
}

// Remove deletes the export of an order. A missing file is not an error.
func (s *Store) Remove(number string) error {
	if number == "" {
		return nil
	}
	err := os.Remove(s.Path(number))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("exports: remove %s: %w", number, err)
}

// Write exports an order with one record per line, replacing any previous
// file for the same number.
func (s *Store) Write(order models.Order, clientCode string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("exports: create dir: %w", err)
	}

	path := s.Path(order.Number)
	tmp, err := os.CreateTemp(s.dir, ".export-*.csv")
	if err != nil {
		return "", fmt.Errorf("exports: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	w.Comma = ';'

	delivery := ""
	if order.DeliveryDate != nil {
		delivery = order.DeliveryDate.Format("2006-01-02")
	}
	records := [][]string{
		{"number", "client", "created_at", "delivery_date", "position", "product_ref", "product_name", "quantity", "unit_price", "line_total"},
	}
	for _, l := range order.Lines {
		records = append(records, []string{
			order.Number,
			clientCode,
			order.CreatedAt.Format("2006-01-02 15:04:05"),
			delivery,
			strconv.Itoa(l.Position),
			l.ProductRef,
			l.ProductName,
			l.Quantity.String(),
			l.UnitPrice.StringFixed(2),
			l.ComputeTotal().StringFixed(2),
		})
	}
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return "", fmt.Errorf("exports: write %s: %w", order.Number, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("exports: close %s: %w", order.Number, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("exports: rename %s: %w", order.Number, err)
	}
	return path, nil
}
