package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"extranet-system/internal/gateway/middleware"
	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/catalog"
	"extranet-system/internal/services/dashboard"
	"extranet-system/internal/services/orders"
	"extranet-system/internal/services/users"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const clientSearchLimit = 20

type AdminHTTPHandler struct {
	dashboard *dashboard.Service
	users     *users.Service
	orders    *orders.Service
	archives  *archive.Service
	directory catalog.Directory
}

func NewAdminHTTPHandler(dash *dashboard.Service, users *users.Service, orders *orders.Service, archives *archive.Service, directory catalog.Directory) *AdminHTTPHandler {
	return &AdminHTTPHandler{
		dashboard: dash,
		users:     users,
		orders:    orders,
		archives:  archives,
		directory: directory,
	}
}

type ChangePasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

type ListOrdersQuery struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=20"`
}

func (h *AdminHTTPHandler) Dashboard(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	d, err := h.dashboard.Build(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("dashboard retrieved", d))
}

// --- Users ---

func (h *AdminHTTPHandler) RegisterUser(c *gin.Context) {
	var req users.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.Register(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("user registered successfully", user))
}

func (h *AdminHTTPHandler) ListUsers(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := h.users.Clients(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("users retrieved", list))
}

func (h *AdminHTTPHandler) GetUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.User(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("user retrieved", user))
}

func (h *AdminHTTPHandler) UpdateUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req users.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.Update(ctx, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("user updated", user))
}

// UserOrders lists the latest orders of one account.
func (h *AdminHTTPHandler) UserOrders(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.User(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := h.orders.UserOrders(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("user orders retrieved", gin.H{
		"user":   user,
		"orders": list,
	}))
}

func (h *AdminHTTPHandler) ChangePassword(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.users.ChangePassword(ctx, id, req.Password, req.PasswordConfirm); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("password changed", nil))
}

func (h *AdminHTTPHandler) PasswordResets(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	reqs, err := h.users.PendingResetRequests(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("pending reset requests retrieved", reqs))
}

// DeleteUser archives an account. Administrators cannot delete themselves.
func (h *AdminHTTPHandler) DeleteUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if id == middleware.UserID(c) {
		c.JSON(http.StatusBadRequest, errorResponse("you cannot delete your own account", "SELF_DELETE"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	archived, err := h.archives.DeleteUser(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("user deleted, it can be restored for a limited time", archived))
}

// --- Orders ---

func (h *AdminHTTPHandler) ListOrders(c *gin.Context) {
	var q ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	page, pageSize := orders.NormalizePage(q.Page, q.PageSize)
	list, total, err := h.orders.ListAll(ctx, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("orders retrieved", list, gin.H{
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	}))
}

func (h *AdminHTTPHandler) GetOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := h.orders.OrderDetail(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("order retrieved", order))
}

func (h *AdminHTTPHandler) DeleteOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	archived, err := h.archives.DeleteOrder(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("order deleted, it can be restored for a limited time", archived))
}

// --- Archives ---

func (h *AdminHTTPHandler) PendingArchives(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	pendingOrders, err := h.archives.PendingOrders(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	pendingUsers, err := h.archives.PendingUsers(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("pending archives retrieved", gin.H{
		"orders": pendingOrders,
		"users":  pendingUsers,
	}))
}

func (h *AdminHTTPHandler) RestoreOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := h.archives.RestoreOrder(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("order restored", order))
}

func (h *AdminHTTPHandler) PurgeOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	history, err := h.archives.PurgeOrder(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("order permanently deleted", history))
}

func (h *AdminHTTPHandler) RestoreUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.archives.RestoreUser(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("user restored", user))
}

func (h *AdminHTTPHandler) PurgeUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	history, err := h.archives.PurgeUser(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("user permanently deleted", history))
}

// --- Clients ---

func (h *AdminHTTPHandler) SearchClients(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	limit := clientSearchLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	clients, err := h.directory.Search(ctx, q, limit)
	if err != nil {
		log.Warn().Err(err).Str("query", q).Msg("client directory unavailable, returning no clients")
		clients = []catalog.Client{}
	}
	c.JSON(http.StatusOK, successResponse("clients retrieved", clients))
}

// ClientCatalog shows the catalog of any client, with the same filters the
// client gets, and the extranet account linked to it if any. A client the
// directory cannot resolve is shown under its code.
func (h *AdminHTTPHandler) ClientCatalog(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	code := strings.TrimSpace(c.Param("code"))
	client, err := h.directory.Client(ctx, catalog.ClientRef{Code: code})
	if err != nil {
		log.Warn().Err(err).Str("client", code).Msg("client directory unavailable, showing client code")
	}
	if client == nil {
		client = &catalog.Client{Code: code, Name: code}
	}

	account, err := h.users.AccountForClient(ctx, code)
	if err != nil {
		respondError(c, err)
		return
	}

	view := h.orders.Catalog(ctx, code, c.QueryArray("tag"), c.Query("q"))
	c.JSON(http.StatusOK, successResponse("catalog retrieved", gin.H{
		"client":  client,
		"account": account,
		"catalog": view,
	}))
}
