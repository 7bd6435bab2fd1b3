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

func userOrderNumbers(a models.DeletedUser) []string {
	orders := a.Orders.Data()
	numbers := make([]string, 0, len(orders))
	for _, o := range orders {
		numbers = append(numbers, o.Number)
	}
	return numbers
}

func (s *Service) writeOrderHistory(tx *gorm.DB, archives []models.DeletedOrder, reason string) error {
	if len(archives) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]models.OrderDeletionHistory, 0, len(archives))
	for _, a := range archives {
		rows = append(rows, models.OrderDeletionHistory{
			Number:     a.Number,
			ClientCode: a.ClientCode,
			ClientName: a.ClientName,
			TotalHT:    a.TotalHT,
			Reason:     reason,
			PurgedAt:   now,
		})
	}
	return tx.Create(&rows).Error
}

func (s *Service) writeUserHistory(tx *gorm.DB, archives []models.DeletedUser, reason string) error {
	if len(archives) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]models.UserDeletionHistory, 0, len(archives))
	for _, a := range archives {
		rows = append(rows, models.UserDeletionHistory{
			Username:   a.Username,
			ClientCode: a.ClientCode,
			ClientName: a.ClientName,
			OrderCount: a.OrderCount(),
			Reason:     reason,
			PurgedAt:   now,
		})
	}
	return tx.Create(&rows).Error
}

// expireOrders drops expired order archives inside tx, with a history row
// each when expiry is audited.
func (s *Service) expireOrders(tx *gorm.DB, archives []models.DeletedOrder) error {
	if len(archives) == 0 {
		return nil
	}
	if s.auditExpired {
		if err := s.writeOrderHistory(tx, archives, models.PurgeReasonExpired); err != nil {
			return err
		}
	}
	ids := make([]int64, 0, len(archives))
	for _, a := range archives {
		ids = append(ids, a.ID)
	}
	return tx.Where("id IN ?", ids).Delete(&models.DeletedOrder{}).Error
}

func (s *Service) expireUsers(tx *gorm.DB, archives []models.DeletedUser) error {
	if len(archives) == 0 {
		return nil
	}
	if s.auditExpired {
		if err := s.writeUserHistory(tx, archives, models.PurgeReasonExpired); err != nil {
			return err
		}
	}
	ids := make([]int64, 0, len(archives))
	for _, a := range archives {
		ids = append(ids, a.ID)
	}
	return tx.Where("id IN ?", ids).Delete(&models.DeletedUser{}).Error
}

// afterExpiry runs once an expiry is committed.
func (s *Service) afterExpiry(ctx context.Context, kind string, archiveID int64, key string, numbers []string) {
	if s.auditExpired {
		s.removeExports(numbers...)
	}
	metrics.ArchivesPurged.WithLabelValues(kind, models.PurgeReasonExpired).Inc()
	log.Info().Int64("archive_id", archiveID).Str("kind", kind).Str("key", key).Msg("archive expired")
	s.publish(ctx, Event{
		EventType: EventArchivePurged,
		Kind:      kind,
		ArchiveID: archiveID,
		Key:       key,
		Reason:    models.PurgeReasonExpired,
		Timestamp: s.now(),
	})
}

// PurgeOrder permanently deletes an order archive on administrator request.
// A history row is always written; the export file is removed on a best
// effort basis once the deletion is committed.
func (s *Service) PurgeOrder(ctx context.Context, archiveID int64) (*models.OrderDeletionHistory, error) {
	var (
		archived models.DeletedOrder
		history  models.OrderDeletionHistory
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&archived, archiveID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrArchiveNotFound
			}
			return err
		}
		history = models.OrderDeletionHistory{
			Number:     archived.Number,
			ClientCode: archived.ClientCode,
			ClientName: archived.ClientName,
			TotalHT:    archived.TotalHT,
			Reason:     models.PurgeReasonManual,
			PurgedAt:   s.now(),
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		return tx.Delete(&models.DeletedOrder{}, archived.ID).Error
	})
	if err != nil {
		if errors.Is(err, ErrArchiveNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("archive: purge order archive %d: %w", archiveID, err)
	}

	s.removeExports(archived.Number)
	metrics.ArchivesPurged.WithLabelValues(metrics.KindOrder, models.PurgeReasonManual).Inc()
	log.Info().Int64("archive_id", archiveID).Str("order", archived.Number).Msg("order archive purged")
	s.publish(ctx, Event{
		EventType: EventArchivePurged,
		Kind:      metrics.KindOrder,
		ArchiveID: archiveID,
		Key:       archived.Number,
		Reason:    models.PurgeReasonManual,
		Timestamp: history.PurgedAt,
	})
	return &history, nil
}

// PurgeUser permanently deletes a user archive and the export files of the
// orders it held.
func (s *Service) PurgeUser(ctx context.Context, archiveID int64) (*models.UserDeletionHistory, error) {
	var (
		archived models.DeletedUser
		history  models.UserDeletionHistory
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&archived, archiveID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrArchiveNotFound
			}
			return err
		}
		history = models.UserDeletionHistory{
			Username:   archived.Username,
			ClientCode: archived.ClientCode,
			ClientName: archived.ClientName,
			OrderCount: archived.OrderCount(),
			Reason:     models.PurgeReasonManual,
			PurgedAt:   s.now(),
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		return tx.Delete(&models.DeletedUser{}, archived.ID).Error
	})
	if err != nil {
		if errors.Is(err, ErrArchiveNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("archive: purge user archive %d: %w", archiveID, err)
	}

	s.removeExports(userOrderNumbers(archived)...)
	metrics.ArchivesPurged.WithLabelValues(metrics.KindUser, models.PurgeReasonManual).Inc()
	log.Info().Int64("archive_id", archiveID).Str("username", archived.Username).Msg("user archive purged")
	s.publish(ctx, Event{
		EventType: EventArchivePurged,
		Kind:      metrics.KindUser,
		ArchiveID: archiveID,
		Key:       archived.Username,
		Reason:    models.PurgeReasonManual,
		Timestamp: history.PurgedAt,
	})
	return &history, nil
}
