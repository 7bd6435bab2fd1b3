package archive

import (
	"context"
	"fmt"
	"time"

	"extranet-system/internal/database/models"
	"extranet-system/internal/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type SweepResult struct {
	Orders int `json:"orders"`
	Users  int `json:"users"`
}

// Sweep removes every archive whose grace period is over. Live records are
// never recreated. With AuditExpired each removal also leaves a history row
// and the related export files are deleted.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		orders []models.DeletedOrder
		users  []models.DeletedUser
	)
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allOrders []models.DeletedOrder
		if err := lockForUpdate(tx).Find(&allOrders).Error; err != nil {
			return err
		}
		for _, a := range allOrders {
			if !a.Restorable(now, s.grace) {
				orders = append(orders, a)
			}
		}

		var allUsers []models.DeletedUser
		if err := lockForUpdate(tx).Find(&allUsers).Error; err != nil {
			return err
		}
		for _, a := range allUsers {
			if !a.Restorable(now, s.grace) {
				users = append(users, a)
			}
		}

		if err := s.expireOrders(tx, orders); err != nil {
			return err
		}
		return s.expireUsers(tx, users)
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("archive: sweep: %w", err)
	}

	for _, a := range orders {
		s.afterExpiry(ctx, metrics.KindOrder, a.ID, a.Number, []string{a.Number})
	}
	for _, a := range users {
		s.afterExpiry(ctx, metrics.KindUser, a.ID, a.Username, userOrderNumbers(a))
	}

	result := SweepResult{Orders: len(orders), Users: len(users)}
	if result.Orders+result.Users > 0 {
		log.Info().Int("orders", result.Orders).Int("users", result.Users).Msg("expired archives swept")
	}
	return result, nil
}

// PendingOrder is an order archive still within its grace period.
type PendingOrder struct {
	models.DeletedOrder
	RemainingSeconds int `json:"remaining_seconds"`
}

type PendingUser struct {
	models.DeletedUser
	RemainingSeconds int `json:"remaining_seconds"`
}

// PendingOrders lists restorable order archives, most recent first.
func (s *Service) PendingOrders(ctx context.Context) ([]PendingOrder, error) {
	var archives []models.DeletedOrder
	if err := s.db.WithContext(ctx).Order("archived_at DESC, id DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("archive: list order archives: %w", err)
	}
	now := s.now()
	pending := make([]PendingOrder, 0, len(archives))
	for _, a := range archives {
		if !a.Restorable(now, s.grace) {
			continue
		}
		pending = append(pending, PendingOrder{DeletedOrder: a, RemainingSeconds: seconds(a.Remaining(now, s.grace))})
	}
	return pending, nil
}

func (s *Service) PendingUsers(ctx context.Context) ([]PendingUser, error) {
	var archives []models.DeletedUser
	if err := s.db.WithContext(ctx).Order("archived_at DESC, id DESC").Find(&archives).Error; err != nil {
		return nil, fmt.Errorf("archive: list user archives: %w", err)
	}
	now := s.now()
	pending := make([]PendingUser, 0, len(archives))
	for _, a := range archives {
		if !a.Restorable(now, s.grace) {
			continue
		}
		pending = append(pending, PendingUser{DeletedUser: a, RemainingSeconds: seconds(a.Remaining(now, s.grace))})
	}
	return pending, nil
}

// History returns the permanent deletions recorded since the given time,
// most recent first.
func (s *Service) History(ctx context.Context, since time.Time) ([]models.OrderDeletionHistory, []models.UserDeletionHistory, error) {
	var orders []models.OrderDeletionHistory
	if err := s.db.WithContext(ctx).Where("purged_at >= ?", since).Order("purged_at DESC, id DESC").Find(&orders).Error; err != nil {
		return nil, nil, fmt.Errorf("archive: order history: %w", err)
	}
	var users []models.UserDeletionHistory
	if err := s.db.WithContext(ctx).Where("purged_at >= ?", since).Order("purged_at DESC, id DESC").Find(&users).Error; err != nil {
		return nil, nil, fmt.Errorf("archive: user history: %w", err)
	}
	return orders, users, nil
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
