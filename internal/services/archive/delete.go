package archive

import (
	"context"
	"errors"
	"fmt"

	"extranet-system/internal/database/models"
	"extranet-system/internal/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func ownerClientCode(ctx context.Context, db *gorm.DB, userID int64) (string, error) {
	var profile models.Profile
	err := db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&profile).Error
	if err != nil {
		return "", err
	}
	return profile.ClientCode, nil
}

// DeleteOrder archives an order with its lines, then removes both. Nothing
// is deleted unless the archive row was written in the same transaction.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) (*models.DeletedOrder, error) {
	var existing models.Order
	err := s.db.WithContext(ctx).Preload("User").First(&existing, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load order %d: %w", orderID, err)
	}

	clientCode, err := ownerClientCode(ctx, s.db, existing.UserID)
	if err != nil {
		return nil, fmt.Errorf("archive: load profile of user %d: %w", existing.UserID, err)
	}
	clientName := s.clientName(ctx, clientCode)
	username := ""
	if existing.User != nil {
		username = existing.User.Username
	}

	var archived models.DeletedOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := lockForUpdate(tx).First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		var lines []models.OrderLine
		if err := tx.Where("order_id = ?", order.ID).Order("position, id").Find(&lines).Error; err != nil {
			return err
		}

		archived = models.DeletedOrder{
			OrderID:      order.ID,
			UserID:       order.UserID,
			Username:     username,
			ClientCode:   clientCode,
			ClientName:   clientName,
			Number:       order.Number,
			OrderedAt:    order.CreatedAt,
			DeliveryDate: order.DeliveryDate,
			DispatchDate: order.DispatchDate,
			TotalHT:      order.TotalHT,
			Comment:      order.Comment,
			Lines:        datatypes.NewJSONType(snapshotLines(lines)),
			ArchivedAt:   s.now(),
		}
		if err := tx.Create(&archived).Error; err != nil {
			return fmt.Errorf("create order archive: %w", err)
		}

		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderLine{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Order{}, order.ID).Error
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("archive: delete order %d: %w", orderID, err)
	}

	metrics.ArchivesCreated.WithLabelValues(metrics.KindOrder).Inc()
	log.Info().Int64("archive_id", archived.ID).Str("order", archived.Number).Msg("order archived")
	s.publish(ctx, Event{
		EventType: EventArchiveCreated,
		Kind:      metrics.KindOrder,
		ArchiveID: archived.ID,
		Key:       archived.Number,
		Timestamp: archived.ArchivedAt,
	})
	return &archived, nil
}

// DeleteUser archives an account with its profile link and full order
// history, then removes reset requests, lines, orders, profile and user in
// that order.
func (s *Service) DeleteUser(ctx context.Context, userID int64) (*models.DeletedUser, error) {
	var existing models.User
	err := s.db.WithContext(ctx).First(&existing, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load user %d: %w", userID, err)
	}

	clientCode, err := ownerClientCode(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("archive: load profile of user %d: %w", userID, err)
	}
	clientName := s.clientName(ctx, clientCode)

	var archived models.DeletedUser
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := lockForUpdate(tx).First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var orders []models.Order
		if err := tx.Where("user_id = ?", user.ID).Order("created_at, id").Find(&orders).Error; err != nil {
			return err
		}

		orderIDs := make([]int64, 0, len(orders))
		snapshots := make([]models.OrderSnapshot, 0, len(orders))
		for _, o := range orders {
			var lines []models.OrderLine
			if err := tx.Where("order_id = ?", o.ID).Order("position, id").Find(&lines).Error; err != nil {
				return err
			}
			orderIDs = append(orderIDs, o.ID)
			snapshots = append(snapshots, snapshotOrder(o, lines))
		}

		archived = models.DeletedUser{
			UserID:       user.ID,
			Username:     user.Username,
			PasswordHash: user.Password,
			Email:        user.Email,
			Firstname:    user.Firstname,
			Lastname:     user.Lastname,
			IsStaff:      user.IsStaff,
			IsActive:     user.IsActive,
			JoinedAt:     user.CreatedAt,
			LastLogin:    user.LastLogin,
			ClientCode:   clientCode,
			ClientName:   clientName,
			Orders:       datatypes.NewJSONType(snapshots),
			ArchivedAt:   s.now(),
		}
		if err := tx.Create(&archived).Error; err != nil {
			return fmt.Errorf("create user archive: %w", err)
		}

		if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetRequest{}).Error; err != nil {
			return err
		}
		if len(orderIDs) > 0 {
			if err := tx.Where("order_id IN ?", orderIDs).Delete(&models.OrderLine{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", orderIDs).Delete(&models.Order{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Profile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, user.ID).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("archive: delete user %d: %w", userID, err)
	}

	metrics.ArchivesCreated.WithLabelValues(metrics.KindUser).Inc()
	log.Info().Int64("archive_id", archived.ID).Str("username", archived.Username).
		Int("orders", len(archived.Orders.Data())).Msg("user archived")
	s.publish(ctx, Event{
		EventType: EventArchiveCreated,
		Kind:      metrics.KindUser,
		ArchiveID: archived.ID,
		Key:       archived.Username,
		Timestamp: archived.ArchivedAt,
	})
	return &archived, nil
}
