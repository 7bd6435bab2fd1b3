package archive

import (
	"context"
	"errors"
	"fmt"

	"extranet-system/internal/database/models"
	"extranet-system/internal/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// RestoreOrder recreates an archived order and its lines under the original
// id, number and creation time, then drops the archive. An expired archive
// is removed and ErrExpired returned. A taken order number or a missing
// owner yields ErrConflict and leaves the archive in place.
func (s *Service) RestoreOrder(ctx context.Context, archiveID int64) (*models.Order, error) {
	var (
		restored models.Order
		expired  *models.DeletedOrder
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a models.DeletedOrder
		if err := lockForUpdate(tx).First(&a, archiveID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrArchiveNotFound
			}
			return err
		}

		if !a.Restorable(s.now(), s.grace) {
			expired = &a
			return s.expireOrders(tx, []models.DeletedOrder{a})
		}

		var owners int64
		if err := tx.Model(&models.User{}).Where("id = ?", a.UserID).Count(&owners).Error; err != nil {
			return err
		}
		if owners == 0 {
			return fmt.Errorf("%w: owner of order %s no longer exists", ErrConflict, a.Number)
		}
		if err := checkOrderNumbersFree(tx, a.Number); err != nil {
			return err
		}

		snap := models.OrderSnapshot{
			ID:           a.OrderID,
			Number:       a.Number,
			CreatedAt:    a.OrderedAt,
			DeliveryDate: a.DeliveryDate,
			DispatchDate: a.DispatchDate,
			TotalHT:      a.TotalHT.String(),
			Comment:      a.Comment,
			Lines:        a.Lines.Data(),
		}
		order, err := recreateOrder(tx, a.UserID, snap)
		if err != nil {
			return err
		}
		restored = order

		return tx.Delete(&models.DeletedOrder{}, a.ID).Error
	})

	if expired != nil && err == nil {
		s.afterExpiry(ctx, metrics.KindOrder, expired.ID, expired.Number, []string{expired.Number})
		metrics.RestoreRejected.WithLabelValues(metrics.KindOrder, "expired").Inc()
		return nil, ErrExpired
	}
	if err != nil {
		return nil, s.restoreError(metrics.KindOrder, archiveID, err)
	}

	metrics.ArchivesRestored.WithLabelValues(metrics.KindOrder).Inc()
	log.Info().Int64("archive_id", archiveID).Str("order", restored.Number).Msg("order restored")
	s.publish(ctx, Event{
		EventType: EventArchiveRestored,
		Kind:      metrics.KindOrder,
		ArchiveID: archiveID,
		Key:       restored.Number,
		Timestamp: s.now(),
	})
	return &restored, nil
}

// RestoreUser recreates an archived account, its client link and every
// archived order with lines. The username, the client link and all order
// numbers must be free; otherwise ErrConflict is returned and the archive is
// kept.
func (s *Service) RestoreUser(ctx context.Context, archiveID int64) (*models.User, error) {
	var (
		restored models.User
		expired  *models.DeletedUser
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a models.DeletedUser
		if err := lockForUpdate(tx).First(&a, archiveID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrArchiveNotFound
			}
			return err
		}

		if !a.Restorable(s.now(), s.grace) {
			expired = &a
			return s.expireUsers(tx, []models.DeletedUser{a})
		}

		var taken int64
		if err := tx.Model(&models.User{}).Where("username = ?", a.Username).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("%w: username %q is already in use", ErrConflict, a.Username)
		}
		if a.ClientCode != "" {
			if err := tx.Model(&models.Profile{}).Where("client_code = ?", a.ClientCode).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return fmt.Errorf("%w: client %s already has an account", ErrConflict, a.ClientCode)
			}
		}

		orders := a.Orders.Data()
		numbers := make([]string, 0, len(orders))
		for _, o := range orders {
			numbers = append(numbers, o.Number)
		}
		if err := checkOrderNumbersFree(tx, numbers...); err != nil {
			return err
		}

		user := models.User{
			ID:        a.UserID,
			Username:  a.Username,
			Email:     a.Email,
			Password:  a.PasswordHash,
			Firstname: a.Firstname,
			Lastname:  a.Lastname,
			IsStaff:   a.IsStaff,
			IsActive:  a.IsActive,
			LastLogin: a.LastLogin,
		}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("recreate user %s: %w", a.Username, err)
		}
		// created_at is stamped on insert; put the original join date back.
		if err := tx.Model(&user).UpdateColumn("created_at", a.JoinedAt).Error; err != nil {
			return err
		}
		user.CreatedAt = a.JoinedAt

		if a.ClientCode != "" {
			profile := models.Profile{UserID: user.ID, ClientCode: a.ClientCode}
			if err := tx.Create(&profile).Error; err != nil {
				return fmt.Errorf("recreate profile of %s: %w", a.Username, err)
			}
			user.Profile = &profile
		}

		for _, snap := range orders {
			if _, err := recreateOrder(tx, user.ID, snap); err != nil {
				return err
			}
		}

		restored = user
		return tx.Delete(&models.DeletedUser{}, a.ID).Error
	})

	if expired != nil && err == nil {
		s.afterExpiry(ctx, metrics.KindUser, expired.ID, expired.Username, userOrderNumbers(*expired))
		metrics.RestoreRejected.WithLabelValues(metrics.KindUser, "expired").Inc()
		return nil, ErrExpired
	}
	if err != nil {
		return nil, s.restoreError(metrics.KindUser, archiveID, err)
	}

	metrics.ArchivesRestored.WithLabelValues(metrics.KindUser).Inc()
	log.Info().Int64("archive_id", archiveID).Str("username", restored.Username).Msg("user restored")
	s.publish(ctx, Event{
		EventType: EventArchiveRestored,
		Kind:      metrics.KindUser,
		ArchiveID: archiveID,
		Key:       restored.Username,
		Timestamp: s.now(),
	})
	return &restored, nil
}

func (s *Service) restoreError(kind string, archiveID int64, err error) error {
	switch {
	case errors.Is(err, ErrArchiveNotFound):
		return err
	case errors.Is(err, ErrConflict):
		metrics.RestoreRejected.WithLabelValues(kind, "conflict").Inc()
		log.Warn().Err(err).Int64("archive_id", archiveID).Str("kind", kind).Msg("restore blocked")
		return err
	}
	log.Error().Err(err).Int64("archive_id", archiveID).Str("kind", kind).Msg("restore failed")
	return fmt.Errorf("archive: restore %s %d: %w", kind, archiveID, err)
}

func checkOrderNumbersFree(tx *gorm.DB, numbers ...string) error {
	if len(numbers) == 0 {
		return nil
	}
	var taken []string
	if err := tx.Model(&models.Order{}).Where("number IN ?", numbers).Pluck("number", &taken).Error; err != nil {
		return err
	}
	if len(taken) > 0 {
		return fmt.Errorf("%w: order number %s is already in use", ErrConflict, taken[0])
	}
	return nil
}

func recreateOrder(tx *gorm.DB, userID int64, snap models.OrderSnapshot) (models.Order, error) {
	order, err := orderFromSnapshot(userID, snap)
	if err != nil {
		return models.Order{}, err
	}
	if err := tx.Omit("Lines", "User").Create(&order).Error; err != nil {
		return models.Order{}, fmt.Errorf("recreate order %s: %w", snap.Number, err)
	}
	if err := tx.Model(&order).UpdateColumn("created_at", snap.CreatedAt).Error; err != nil {
		return models.Order{}, err
	}
	order.CreatedAt = snap.CreatedAt

	lines, err := linesFromSnapshot(order.ID, snap.Lines)
	if err != nil {
		return models.Order{}, err
	}
	if len(lines) > 0 {
		if err := tx.Create(&lines).Error; err != nil {
			return models.Order{}, fmt.Errorf("recreate lines of %s: %w", snap.Number, err)
		}
	}
	order.Lines = lines
	return order, nil
}
