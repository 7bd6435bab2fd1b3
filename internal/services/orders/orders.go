// Package orders turns carts into orders and serves the per-client order
// views: history, details, catalog and favorites.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"extranet-system/internal/database/models"
	"extranet-system/internal/metrics"
	"extranet-system/internal/services/cart"
	"extranet-system/internal/services/catalog"
	"extranet-system/internal/services/filters"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrOrderNotFound   = errors.New("order not found")
	ErrNoClient        = errors.New("account is not linked to a client")
	ErrNumberExhausted = errors.New("no free order number")
)

const (
	FavoritesLimit   = 12
	UserOrdersLimit  = 50
	DefaultPageSize  = 20
	MaxPageSize      = 100
	numberAttempts   = 20
	numberDateLayout = "20060102"

	// reorders fill about half of the favorites and preferred categories a
	// quarter; the client catalog completes the list.
	reorderLimit        = FavoritesLimit / 2
	categoryLimit       = FavoritesLimit / 4
	preferredCategories = 3
)

type Cart interface {
	Items(ctx context.Context, userID int64) ([]cart.Item, error)
	Clear(ctx context.Context, userID int64) error
}

type Exporter interface {
	Write(order models.Order, clientCode string) (string, error)
}

type Service struct {
	db       *gorm.DB
	products catalog.Source
	cart     Cart
	exports  Exporter
	now      func() time.Time
	intn     func(n int) int
}

// NewService wires the order service. exports may be nil.
func NewService(db *gorm.DB, products catalog.Source, c Cart, exports Exporter) *Service {
	return &Service{
		db:       db,
		products: products,
		cart:     c,
		exports:  exports,
		now:      time.Now,
		intn:     rand.IntN,
	}
}

// WithClock replaces the time source used for order numbers and timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type PlaceOrderInput struct {
	DeliveryDate *time.Time `json:"delivery_date"`
	DispatchDate *time.Time `json:"dispatch_date"`
	Comment      string     `json:"comment"`
}

// ClientCode returns the client an account orders for.
func (s *Service) ClientCode(ctx context.Context, userID int64) (string, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoClient
	}
	if err != nil {
		return "", fmt.Errorf("orders: load profile: %w", err)
	}
	if strings.TrimSpace(profile.ClientCode) == "" {
		return "", ErrNoClient
	}
	return profile.ClientCode, nil
}

// PlaceOrder creates an order from the user's cart. Items whose reference is
// no longer in the client catalog are dropped. The cart is cleared once the
// order is committed.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (*models.Order, error) {
	clientCode, err := s.ClientCode(ctx, userID)
	if err != nil {
		return nil, err
	}
	ref := catalog.ClientRef{Code: clientCode}

	items, err := s.cart.Items(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("orders: load cart: %w", err)
	}

	var lines []models.OrderLine
	for _, item := range items {
		p, err := s.products.Product(ctx, ref, item.ProductRef)
		if err != nil {
			return nil, fmt.Errorf("orders: resolve %s: %w", item.ProductRef, err)
		}
		if p == nil {
			log.Warn().Str("product", item.ProductRef).Str("client", clientCode).Msg("cart item no longer in catalog, skipped")
			continue
		}
		lines = append(lines, models.OrderLine{
			Position:    len(lines) + 1,
			ProductRef:  p.Code,
			ProductName: p.Label,
			Quantity:    item.Quantity,
			UnitPrice:   p.Price,
		})
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	now := s.now()
	order := models.Order{
		UserID:       userID,
		CreatedAt:    now,
		DeliveryDate: in.DeliveryDate,
		DispatchDate: in.DispatchDate,
		TotalHT:      models.SumLines(lines),
		Comment:      strings.TrimSpace(in.Comment),
		Lines:        lines,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.freeNumber(tx, now)
		if err != nil {
			return err
		}
		order.Number = number
		return tx.Omit("User").Create(&order).Error
	})
	if err != nil {
		return nil, fmt.Errorf("orders: place order: %w", err)
	}

	metrics.OrdersPlaced.Inc()
	log.Info().Str("order", order.Number).Int64("user_id", userID).Str("total_ht", order.TotalHT.StringFixed(2)).Msg("order placed")

	if s.exports != nil {
		if _, err := s.exports.Write(order, clientCode); err != nil {
			log.Error().Err(err).Str("order", order.Number).Msg("failed to export order")
		}
	}
	if err := s.cart.Clear(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("failed to clear cart after order")
	}

	return &order, nil
}

// freeNumber draws CMD-YYYYMMDD-XXXX numbers until one is unused.
func (s *Service) freeNumber(tx *gorm.DB, now time.Time) (string, error) {
	prefix := "CMD-" + now.Format(numberDateLayout) + "-"
	for i := 0; i < numberAttempts; i++ {
		number := fmt.Sprintf("%s%04d", prefix, 1000+s.intn(9000))
		var n int64
		if err := tx.Model(&models.Order{}).Where("number = ?", number).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return number, nil
		}
	}
	return "", ErrNumberExhausted
}

// History lists the user's orders, most recent first.
func (s *Service) History(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("orders: history: %w", err)
	}
	return orders, nil
}

// NormalizePage returns the page and page size ListAll actually uses.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

// ListAll pages through every order, most recent first, with the owner and
// its profile loaded.
func (s *Service) ListAll(ctx context.Context, page, pageSize int) ([]models.Order, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)

	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.Order{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("orders: count: %w", err)
	}

	var orders []models.Order
	err := db.Preload("User.Profile").
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("orders: list: %w", err)
	}
	return orders, total, nil
}

// Order returns one of the user's orders. Orders of other users are reported
// as missing.
func (s *Service) Order(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orders: load order %d: %w", orderID, err)
	}
	return &order, nil
}

// OrderDetail loads any order for the back office, with its lines and owner.
func (s *Service) OrderDetail(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("User.Profile").
		Where("id = ?", orderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orders: load order %d: %w", orderID, err)
	}
	return &order, nil
}

// UserOrders returns the last UserOrdersLimit orders of one account, newest first.
func (s *Service) UserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(UserOrdersLimit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("orders: orders of user %d: %w", userID, err)
	}
	return orders, nil
}

// Catalog is the filtered catalog of a client. An unreachable product source
// renders an empty page.
func (s *Service) Catalog(ctx context.Context, clientCode string, active []string, query string) filters.View {
	products := catalog.ProductsOrEmpty(ctx, s.products, catalog.ClientRef{Code: clientCode})
	return filters.Browse(products, filters.DefaultThreshold, active, query)
}

type favoriteRow struct {
	ProductRef string
	OrderCount int64
	Total      float64
}

// purchaseHistory ranks every reference the user ordered by the number of
// orders it appears in, then by summed quantity.
func (s *Service) purchaseHistory(ctx context.Context, userID int64) ([]favoriteRow, error) {
	var rows []favoriteRow
	err := s.db.WithContext(ctx).
		Table("order_lines").
		Select("order_lines.product_ref AS product_ref, COUNT(DISTINCT orders.id) AS order_count, SUM(order_lines.quantity) AS total").
		Joins("JOIN orders ON orders.id = order_lines.order_id").
		Where("orders.user_id = ?", userID).
		Group("order_lines.product_ref").
		Order("order_count DESC, total DESC, order_lines.product_ref").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("orders: favorites: %w", err)
	}
	return rows, nil
}

// Favorites is the filtered list of recommended products: the references the
// user reorders most, then products of the categories they buy most, then
// the rest of the client catalog, without duplicates and up to
// FavoritesLimit products.
func (s *Service) Favorites(ctx context.Context, userID int64, active []string, query string) (filters.View, error) {
	clientCode, err := s.ClientCode(ctx, userID)
	if err != nil {
		return filters.View{}, err
	}
	history, err := s.purchaseHistory(ctx, userID)
	if err != nil {
		return filters.View{}, err
	}

	products := catalog.ProductsOrEmpty(ctx, s.products, catalog.ClientRef{Code: clientCode})
	return filters.Browse(recommend(products, history), filters.FavoritesThreshold, active, query), nil
}

func recommend(products []catalog.Product, history []favoriteRow) []catalog.Product {
	index := make(map[string]int, len(products))
	for i, p := range products {
		if _, dup := index[p.Code]; !dup {
			index[p.Code] = i
		}
	}

	picked := make([]catalog.Product, 0, FavoritesLimit)
	chosen := make(map[string]struct{}, FavoritesLimit)
	pick := func(p catalog.Product) {
		picked = append(picked, p)
		chosen[p.Code] = struct{}{}
	}
	taken := func(code string) bool {
		_, ok := chosen[code]
		return ok
	}

	ordered := make(map[string]struct{}, len(history))
	for _, r := range history {
		ordered[r.ProductRef] = struct{}{}
		i, ok := index[r.ProductRef]
		if !ok || taken(r.ProductRef) || len(picked) >= reorderLimit {
			continue
		}
		pick(products[i])
	}

	tagged, _ := filters.Classify(products, filters.FavoritesThreshold)
	weights := make(map[string]float64)
	for _, r := range history {
		i, ok := index[r.ProductRef]
		if !ok {
			continue
		}
		for _, code := range tagged[i].Tags {
			if _, static := filters.StaticTag(code); static {
				weights[code] += r.Total
			}
		}
	}
	preferred := topCategories(weights, preferredCategories)
	added := 0
	for i, p := range tagged {
		if added >= categoryLimit || len(picked) >= FavoritesLimit {
			break
		}
		if _, bought := ordered[p.Code]; bought || taken(p.Code) || !hasAnyTag(p.Tags, preferred) {
			continue
		}
		pick(products[i])
		added++
	}

	for _, p := range products {
		if len(picked) >= FavoritesLimit {
			break
		}
		if taken(p.Code) {
			continue
		}
		pick(p)
	}
	return picked
}

func topCategories(weights map[string]float64, n int) map[string]struct{} {
	codes := make([]string, 0, len(weights))
	for code := range weights {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if weights[codes[i]] != weights[codes[j]] {
			return weights[codes[i]] > weights[codes[j]]
		}
		return codes[i] < codes[j]
	})
	if len(codes) > n {
		codes = codes[:n]
	}
	top := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		top[code] = struct{}{}
	}
	return top
}

func hasAnyTag(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
