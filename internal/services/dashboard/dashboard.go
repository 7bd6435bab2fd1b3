// Package dashboard builds the administrator overview. Every read first
// sweeps the archives whose grace period is over.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"extranet-system/internal/database/models"
	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/catalog"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	DefaultHistoryWindow = 24 * time.Hour
	RecentLimit          = 5
)

const (
	ActivityOrder         = "order"
	ActivityUser          = "user"
	ActivityOrderArchived = "order_archived"
	ActivityOrderPurged   = "order_purged"
	ActivityUserArchived  = "user_archived"
	ActivityUserPurged    = "user_purged"
)

type Activity struct {
	Type        string    `json:"type"`
	At          time.Time `json:"at"`
	Description string    `json:"description"`
	RefID       int64     `json:"ref_id"`
	// RemainingSeconds is set for archives that can still be restored.
	RemainingSeconds *int `json:"remaining_seconds,omitempty"`
}

type Stats struct {
	Users  int64 `json:"users"`
	Orders int64 `json:"orders"`
	// Clients is nil when the client directory cannot be reached.
	Clients *int `json:"clients"`
}

type ResetRequest struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	ClientName string    `json:"client_name"`
	CreatedAt  time.Time `json:"created_at"`
}

type PendingOrder struct {
	ID               int64     `json:"id"`
	Number           string    `json:"number"`
	ClientName       string    `json:"client_name"`
	TotalHT          string    `json:"total_ht"`
	ArchivedAt       time.Time `json:"archived_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

type PendingUser struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	ClientName       string    `json:"client_name"`
	OrderCount       int       `json:"order_count"`
	ArchivedAt       time.Time `json:"archived_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

type Dashboard struct {
	Stats         Stats               `json:"stats"`
	Activities    []Activity          `json:"activities"`
	ResetRequests []ResetRequest      `json:"reset_requests"`
	PendingOrders []PendingOrder      `json:"pending_orders"`
	PendingUsers  []PendingUser       `json:"pending_users"`
	Swept         archive.SweepResult `json:"swept"`
}

type Service struct {
	db            *gorm.DB
	archives      *archive.Service
	directory     catalog.Directory
	historyWindow time.Duration
}

func NewService(db *gorm.DB, archives *archive.Service, directory catalog.Directory, historyWindow time.Duration) *Service {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	return &Service{db: db, archives: archives, directory: directory, historyWindow: historyWindow}
}

// clientLabel resolves a client name, falling back to its code.
func (s *Service) clientLabel(ctx context.Context, code string) string {
	if name, ok := catalog.ClientName(ctx, s.directory, catalog.ClientRef{Code: code}); ok {
		return name
	}
	return code
}

func profileCode(p *models.Profile) string {
	if p == nil {
		return ""
	}
	return p.ClientCode
}

func (s *Service) Build(ctx context.Context) (*Dashboard, error) {
	swept, err := s.archives.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Swept: swept}
	if d.Stats, err = s.stats(ctx); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var activities []Activity

	var orders []models.Order
	if err := db.Preload("User.Profile").Order("created_at DESC, id DESC").Limit(RecentLimit).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("dashboard: recent orders: %w", err)
	}
	for _, o := range orders {
		code := ""
		if o.User != nil {
			code = profileCode(o.User.Profile)
		}
		activities = append(activities, Activity{
			Type:        ActivityOrder,
			At:          o.CreatedAt,
			Description: fmt.Sprintf("New order %s placed by %s", o.Number, s.clientLabel(ctx, code)),
			RefID:       o.ID,
		})
	}

	var users []models.User
	if err := db.Preload("Profile").Where("is_staff = ?", false).Order("created_at DESC, id DESC").Limit(RecentLimit).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("dashboard: recent users: %w", err)
	}
	for _, u := range users {
		activities = append(activities, Activity{
			Type:        ActivityUser,
			At:          u.CreatedAt,
			Description: fmt.Sprintf("New user created: %s (%s)", s.clientLabel(ctx, profileCode(u.Profile)), u.Username),
			RefID:       u.ID,
		})
	}

	pendingOrders, err := s.archives.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pendingOrders {
		remaining := p.RemainingSeconds
		d.PendingOrders = append(d.PendingOrders, PendingOrder{
			ID:               p.ID,
			Number:           p.Number,
			ClientName:       p.ClientName,
			TotalHT:          p.TotalHT.StringFixed(2),
			ArchivedAt:       p.ArchivedAt,
			RemainingSeconds: remaining,
		})
		activities = append(activities, Activity{
			Type:             ActivityOrderArchived,
			At:               p.ArchivedAt,
			Description:      fmt.Sprintf("Order %s deleted (%s)", p.Number, p.ClientName),
			RefID:            p.ID,
			RemainingSeconds: &remaining,
		})
	}

	pendingUsers, err := s.archives.PendingUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pendingUsers {
		remaining := p.RemainingSeconds
		d.PendingUsers = append(d.PendingUsers, PendingUser{
			ID:               p.ID,
			Username:         p.Username,
			ClientName:       p.ClientName,
			OrderCount:       p.OrderCount(),
			ArchivedAt:       p.ArchivedAt,
			RemainingSeconds: remaining,
		})
		activities = append(activities, Activity{
			Type:             ActivityUserArchived,
			At:               p.ArchivedAt,
			Description:      fmt.Sprintf("User %s deleted (%s)", p.Username, p.ClientName),
			RefID:            p.ID,
			RemainingSeconds: &remaining,
		})
	}

	purgedOrders, purgedUsers, err := s.archives.History(ctx, s.archives.Now().Add(-s.historyWindow))
	if err != nil {
		return nil, err
	}
	for i, h := range purgedOrders {
		if i == RecentLimit {
			break
		}
		activities = append(activities, Activity{
			Type:        ActivityOrderPurged,
			At:          h.PurgedAt,
			Description: fmt.Sprintf("Order %s permanently deleted (%s)", h.Number, h.ClientName),
			RefID:       h.ID,
		})
	}
	for i, h := range purgedUsers {
		if i == RecentLimit {
			break
		}
		activities = append(activities, Activity{
			Type:        ActivityUserPurged,
			At:          h.PurgedAt,
			Description: fmt.Sprintf("User %s permanently deleted (%s)", h.Username, h.ClientName),
			RefID:       h.ID,
		})
	}

	sort.SliceStable(activities, func(i, j int) bool { return activities[i].At.After(activities[j].At) })
	if len(activities) > RecentLimit {
		activities = activities[:RecentLimit]
	}
	d.Activities = activities

	if d.ResetRequests, err = s.resetRequests(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Where("is_staff = ?", false).Count(&st.Users).Error; err != nil {
		return st, fmt.Errorf("dashboard: count users: %w", err)
	}
	if err := db.Model(&models.Order{}).Count(&st.Orders).Error; err != nil {
		return st, fmt.Errorf("dashboard: count orders: %w", err)
	}
	if s.directory != nil {
		n, err := s.directory.CountClients(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("client directory unavailable, client count omitted")
		} else {
			st.Clients = &n
		}
	}
	return st, nil
}

func (s *Service) resetRequests(ctx context.Context) ([]ResetRequest, error) {
	var reqs []models.PasswordResetRequest
	err := s.db.WithContext(ctx).Preload("User.Profile").
		Where("processed = ?", false).
		Order("created_at DESC, id DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard: reset requests: %w", err)
	}

	out := make([]ResetRequest, 0, len(reqs))
	for _, r := range reqs {
		item := ResetRequest{ID: r.ID, UserID: r.UserID, CreatedAt: r.CreatedAt}
		if r.User != nil {
			item.Username = r.User.Username
			item.ClientName = s.clientLabel(ctx, profileCode(r.User.Profile))
		}
		out = append(out, item)
	}
	return out, nil
}
