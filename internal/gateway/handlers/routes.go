package handlers

import (
	"context"
	"net/http"
	"time"

	"extranet-system/internal/gateway/middleware"
	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/cart"
	"extranet-system/internal/services/catalog"
	"extranet-system/internal/services/dashboard"
	"extranet-system/internal/services/orders"
	"extranet-system/internal/services/users"
	"extranet-system/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Services groups everything the HTTP surface needs.
type Services struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Tokens    *utils.TokenManager
	Users     *users.Service
	Orders    *orders.Service
	Cart      *cart.Store
	Archives  *archive.Service
	Dashboard *dashboard.Service
	Directory catalog.Directory
}

func NewRouter(s Services, rateLimit string) (*gin.Engine, error) {
	r := gin.New()

	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger())
	r.Use(gin.Recovery())
	if rateLimit != "" {
		limit, err := middleware.RateLimit(rateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(limit)
	}

	authHandler := NewAuthHTTPHandler(s.Users)
	clientHandler := NewClientHTTPHandler(s.Orders, s.Cart)
	adminHandler := NewAdminHTTPHandler(s.Dashboard, s.Users, s.Orders, s.Archives, s.Directory)

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/password-reset", authHandler.RequestPasswordReset)
		}
	}

	// --- Client API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(s.Tokens))
	{
		protected.PUT("/account/password", authHandler.ChangeOwnPassword)

		protected.GET("/catalog", clientHandler.Catalog)
		protected.GET("/catalog/favorites", clientHandler.Favorites)

		cartGroup := protected.Group("/cart")
		{
			cartGroup.GET("", clientHandler.GetCart)
			cartGroup.DELETE("", clientHandler.ClearCart)
			cartGroup.POST("/items", clientHandler.AddToCart)
			cartGroup.PUT("/items/:ref", clientHandler.SetCartQuantity)
			cartGroup.DELETE("/items/:ref", clientHandler.RemoveFromCart)
		}

		ordersGroup := protected.Group("/orders")
		{
			ordersGroup.POST("", clientHandler.PlaceOrder)
			ordersGroup.GET("", clientHandler.ListOrders)
			ordersGroup.GET("/:id", clientHandler.GetOrder)
		}
	}

	// --- Admin API Group ---
	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.JWTAuth(s.Tokens), middleware.StaffOnly())
	{
		admin.GET("/dashboard", adminHandler.Dashboard)

		admin.GET("/users", adminHandler.ListUsers)
		admin.POST("/users", adminHandler.RegisterUser)
		admin.GET("/users/:id", adminHandler.GetUser)
		admin.PUT("/users/:id", adminHandler.UpdateUser)
		admin.GET("/users/:id/orders", adminHandler.UserOrders)
		admin.PUT("/users/:id/password", adminHandler.ChangePassword)
		admin.DELETE("/users/:id", adminHandler.DeleteUser)
		admin.GET("/password-resets", adminHandler.PasswordResets)

		admin.GET("/orders", adminHandler.ListOrders)
		admin.GET("/orders/:id", adminHandler.GetOrder)
		admin.DELETE("/orders/:id", adminHandler.DeleteOrder)

		archives := admin.Group("/archives")
		{
			archives.GET("", adminHandler.PendingArchives)
			archives.POST("/orders/:id/restore", adminHandler.RestoreOrder)
			archives.DELETE("/orders/:id", adminHandler.PurgeOrder)
			archives.POST("/users/:id/restore", adminHandler.RestoreUser)
			archives.DELETE("/users/:id", adminHandler.PurgeUser)
		}

		admin.GET("/clients", adminHandler.SearchClients)
		admin.GET("/clients/:code/catalog", adminHandler.ClientCatalog)
	}

	r.GET("/health", healthCheckHandler(s.DB, s.Redis))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

func healthCheckHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		unavailable := []string{}
		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				unavailable = append(unavailable, "database")
			}
		}
		if rdb != nil && rdb.Ping(ctx).Err() != nil {
			unavailable = append(unavailable, "redis")
		}

		status := "healthy"
		httpStatus := http.StatusOK
		if len(unavailable) > 0 {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, gin.H{
			"status":               status,
			"message":              "Server is running",
			"unavailable_services": unavailable,
			"timestamp":            time.Now(),
		})
	}
}
