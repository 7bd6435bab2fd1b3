// Package archive implements soft deletion of orders and user accounts:
// a full snapshot is written before the live rows go away, it can be
// restored during a grace period, and it is purged afterwards.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"extranet-system/internal/services/catalog"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrArchiveNotFound = errors.New("archive not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrExpired         = errors.New("archive expired")
	ErrConflict        = errors.New("restore conflict")
	ErrCorruptArchive  = errors.New("corrupt archive")
)

const (
	DefaultGracePeriod = 5 * time.Minute

	EVENTS_CHANNEL_PREFIX = "extranet:events:"
	EventArchiveCreated   = "archive.created"
	EventArchiveRestored  = "archive.restored"
	EventArchivePurged    = "archive.purged"
)

// Exporter removes the exported file of an order. Missing files are not an
// error.
type Exporter interface {
	Remove(number string) error
}

type Options struct {
	GracePeriod time.Duration
	// AuditExpired makes expiry write a deletion history row and remove
	// export files, like an administrator purge does.
	AuditExpired bool
	Now          func() time.Time
}

type Service struct {
	db           *gorm.DB
	directory    catalog.Directory
	exports      Exporter
	redis        *redis.Client
	grace        time.Duration
	auditExpired bool
	now          func() time.Time
}

// NewService wires the archive service. directory, exports and redisClient
// may be nil.
func NewService(db *gorm.DB, directory catalog.Directory, exports Exporter, redisClient *redis.Client, opts Options) *Service {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		db:           db,
		directory:    directory,
		exports:      exports,
		redis:        redisClient,
		grace:        opts.GracePeriod,
		auditExpired: opts.AuditExpired,
		now:          opts.Now,
	}
}

func (s *Service) GracePeriod() time.Duration {
	return s.grace
}

func (s *Service) Now() time.Time {
	return s.now()
}

// clientName falls back to the client code when the directory has no answer.
func (s *Service) clientName(ctx context.Context, code string) string {
	if name, ok := catalog.ClientName(ctx, s.directory, catalog.ClientRef{Code: code}); ok {
		return name
	}
	return code
}

func (s *Service) removeExports(numbers ...string) {
	if s.exports == nil {
		return
	}
	for _, n := range numbers {
		if err := s.exports.Remove(n); err != nil {
			log.Warn().Err(err).Str("order", n).Msg("failed to remove export file")
		}
	}
}

// -- Pub/Sub Related --
type Event struct {
	EventType string    `json:"event_type"`
	Kind      string    `json:"kind"`
	ArchiveID int64     `json:"archive_id"`
	Key       string    `json:"key"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.redis == nil {
		return
	}
	if err := s.publishEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", event.EventType).Msg("failed to publish archive event")
	}
}

func (s *Service) publishEvent(ctx context.Context, event Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := EVENTS_CHANNEL_PREFIX + event.EventType
	if err := s.redis.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
