package handlers

import (
	"net/http"
	"strings"
	"time"

	"extranet-system/internal/gateway/middleware"
	"extranet-system/internal/services/cart"
	"extranet-system/internal/services/orders"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ClientHTTPHandler serves the pages of a logged-in client: catalog, cart
// and orders.
type ClientHTTPHandler struct {
	orders *orders.Service
	cart   *cart.Store
}

func NewClientHTTPHandler(orders *orders.Service, cart *cart.Store) *ClientHTTPHandler {
	return &ClientHTTPHandler{orders: orders, cart: cart}
}

type CartItemRequest struct {
	ProductRef string          `json:"product_ref" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type SetQuantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type PlaceOrderRequest struct {
	DeliveryDate string `json:"delivery_date"`
	DispatchDate string `json:"dispatch_date"`
	Comment      string `json:"comment"`
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (h *ClientHTTPHandler) Catalog(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	code, err := h.orders.ClientCode(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	view := h.orders.Catalog(ctx, code, c.QueryArray("tag"), c.Query("q"))
	c.JSON(http.StatusOK, successResponse("catalog retrieved", view))
}

func (h *ClientHTTPHandler) Favorites(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.orders.Favorites(ctx, middleware.UserID(c), c.QueryArray("tag"), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("favorites retrieved", view))
}

// --- Cart ---

func (h *ClientHTTPHandler) GetCart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	items, err := h.cart.Items(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("cart retrieved", items))
}

func (h *ClientHTTPHandler) AddToCart(c *gin.Context) {
	var req CartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	total, err := h.cart.Add(ctx, middleware.UserID(c), strings.TrimSpace(req.ProductRef), req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("item added", cart.Item{ProductRef: req.ProductRef, Quantity: total}))
}

func (h *ClientHTTPHandler) SetCartQuantity(c *gin.Context) {
	var req SetQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.cart.Set(ctx, middleware.UserID(c), c.Param("ref"), req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("quantity updated", nil))
}

func (h *ClientHTTPHandler) RemoveFromCart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.cart.Remove(ctx, middleware.UserID(c), c.Param("ref")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("item removed", nil))
}

func (h *ClientHTTPHandler) ClearCart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.cart.Clear(ctx, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("cart cleared", nil))
}

// --- Orders ---

func (h *ClientHTTPHandler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}
	delivery, err := parseDate(req.DeliveryDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("delivery_date must use YYYY-MM-DD", "INVALID_DATE"))
		return
	}
	dispatch, err := parseDate(req.DispatchDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("dispatch_date must use YYYY-MM-DD", "INVALID_DATE"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := h.orders.PlaceOrder(ctx, middleware.UserID(c), orders.PlaceOrderInput{
		DeliveryDate: delivery,
		DispatchDate: dispatch,
		Comment:      req.Comment,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("order placed", order))
}

func (h *ClientHTTPHandler) ListOrders(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := h.orders.History(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("orders retrieved", list))
}

func (h *ClientHTTPHandler) GetOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := h.orders.Order(ctx, middleware.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("order retrieved", order))
}
