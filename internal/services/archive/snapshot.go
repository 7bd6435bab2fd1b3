package archive

import (
	"fmt"

	"extranet-system/internal/database/models"

	"github.com/shopspring/decimal"
)

func snapshotLines(lines []models.OrderLine) []models.LineSnapshot {
	snaps := make([]models.LineSnapshot, 0, len(lines))
	for _, l := range lines {
		snaps = append(snaps, models.LineSnapshot{
			Position:    l.Position,
			ProductRef:  l.ProductRef,
			ProductName: l.ProductName,
			Quantity:    l.Quantity.String(),
			UnitPrice:   l.UnitPrice.String(),
			LineTotal:   l.ComputeTotal().StringFixed(2),
		})
	}
	return snaps
}

func snapshotOrder(o models.Order, lines []models.OrderLine) models.OrderSnapshot {
	return models.OrderSnapshot{
		ID:           o.ID,
		Number:       o.Number,
		CreatedAt:    o.CreatedAt,
		DeliveryDate: o.DeliveryDate,
		DispatchDate: o.DispatchDate,
		TotalHT:      o.TotalHT.String(),
		Comment:      o.Comment,
		Lines:        snapshotLines(lines),
	}
}

func linesFromSnapshot(orderID int64, snaps []models.LineSnapshot) ([]models.OrderLine, error) {
	lines := make([]models.OrderLine, 0, len(snaps))
	for i, s := range snaps {
		qty, err := decimal.NewFromString(s.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d quantity %q", ErrCorruptArchive, i, s.Quantity)
		}
		price, err := decimal.NewFromString(s.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d unit price %q", ErrCorruptArchive, i, s.UnitPrice)
		}
		position := s.Position
		if position == 0 {
			position = i + 1
		}
		lines = append(lines, models.OrderLine{
			OrderID:     orderID,
			Position:    position,
			ProductRef:  s.ProductRef,
			ProductName: s.ProductName,
			Quantity:    qty,
			UnitPrice:   price,
		})
	}
	return lines, nil
}

func orderFromSnapshot(userID int64, s models.OrderSnapshot) (models.Order, error) {
	total, err := decimal.NewFromString(s.TotalHT)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: order %s total %q", ErrCorruptArchive, s.Number, s.TotalHT)
	}
	return models.Order{
		ID:           s.ID,
		UserID:       userID,
		Number:       s.Number,
		DeliveryDate: s.DeliveryDate,
		DispatchDate: s.DispatchDate,
		TotalHT:      total,
		Comment:      s.Comment,
	}, nil
}
