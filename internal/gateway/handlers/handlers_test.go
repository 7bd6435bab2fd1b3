package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"extranet-system/internal/database/dbtest"
	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/cart"
	"extranet-system/internal/services/catalog"
	"extranet-system/internal/services/dashboard"
	"extranet-system/internal/services/orders"
	"extranet-system/internal/services/users"
	"extranet-system/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSource map[string]catalog.Product

func (s stubSource) Products(context.Context, catalog.ClientRef) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	return out, nil
}

func (s stubSource) Product(_ context.Context, _ catalog.ClientRef, code string) (*catalog.Product, error) {
	p, ok := s[code]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type stubDirectory map[string]string

func (d stubDirectory) Client(_ context.Context, ref catalog.ClientRef) (*catalog.Client, error) {
	name, ok := d[ref.Code]
	if !ok {
		return nil, nil
	}
	return &catalog.Client{Code: ref.Code, Name: name}, nil
}

func (d stubDirectory) Search(_ context.Context, q string, limit int) ([]catalog.Client, error) {
	var out []catalog.Client
	for code, name := range d {
		if strings.Contains(strings.ToLower(name), strings.ToLower(q)) {
			out = append(out, catalog.Client{Code: code, Name: name})
		}
	}
	return out, nil
}

func (d stubDirectory) CountClients(context.Context) (int, error) { return len(d), nil }

var errDirectoryDown = errors.New("dial tcp: connection refused")

type downDirectory struct{}

func (downDirectory) Client(context.Context, catalog.ClientRef) (*catalog.Client, error) {
	return nil, errDirectoryDown
}

func (downDirectory) Search(context.Context, string, int) ([]catalog.Client, error) {
	return nil, errDirectoryDown
}

func (downDirectory) CountClients(context.Context) (int, error) { return 0, errDirectoryDown }

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

type testServer struct {
	router *gin.Engine
	svc    Services
	clock  time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, stubDirectory{"100": "Boucherie Martin", "200": "Café du Port"})
}

func newTestServerWith(t *testing.T, directory catalog.Directory) *testServer {
	t.Helper()
	db := dbtest.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ts := &testServer{clock: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	now := func() time.Time { return ts.clock }

	source := stubSource{
		"P1": {Code: "P1", Label: "Côte de porc", Price: decimal.RequireFromString("12.50")},
		"P2": {Code: "P2", Label: "Lait entier", Price: decimal.RequireFromString("8.90")},
	}
	tokens := utils.NewTokenManager("test-secret", time.Hour)
	cartStore := cart.NewStore(rdb, time.Hour)
	archives := archive.NewService(db, directory, nil, rdb, archive.Options{
		GracePeriod:  5 * time.Minute,
		AuditExpired: true,
		Now:          now,
	})

	ts.svc = Services{
		DB:        db,
		Redis:     rdb,
		Tokens:    tokens,
		Users:     users.NewService(db, directory, tokens),
		Orders:    orders.NewService(db, source, cartStore, nil).WithClock(now),
		Cart:      cartStore,
		Archives:  archives,
		Dashboard: dashboard.NewService(db, archives, directory, 0),
		Directory: directory,
	}
	router, err := NewRouter(ts.svc, "")
	require.NoError(t, err)
	ts.router = router
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	code, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": username, "password": password})
	require.Equal(t, http.StatusOK, code, env.Message)
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.Token
}

func (ts *testServer) seedAdmin(t *testing.T) string {
	t.Helper()
	_, err := ts.svc.Users.Register(context.Background(), users.RegisterInput{
		Username: "admin", Password: "motdepasse", PasswordConfirm: "motdepasse", IsStaff: true,
	})
	require.NoError(t, err)
	return ts.login(t, "admin", "motdepasse")
}

func (ts *testServer) seedAccounts(t *testing.T) (adminToken, clientToken string) {
	t.Helper()
	adminToken = ts.seedAdmin(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/admin/users", adminToken, gin.H{
		"username":         "martin",
		"email":            "contact@martin.fr",
		"password":         "motdepasse",
		"password_confirm": "motdepasse",
		"client_code":      "100",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	clientToken = ts.login(t, "martin", "motdepasse")
	return adminToken, clientToken
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	adminToken, clientToken := ts.seedAccounts(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/admin/dashboard", clientToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error)

	code, env = ts.do(t, http.MethodPost, "/api/v1/orders", clientToken, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "EMPTY_CART", env.Error)

	code, env = ts.do(t, http.MethodPost, "/api/v1/cart/items", clientToken, gin.H{"product_ref": "P1", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_QUANTITY", env.Error)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/cart/items", clientToken, gin.H{"product_ref": "P1", "quantity": 3})
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPut, "/api/v1/cart/items/P2", clientToken, gin.H{"quantity": "1.5"})
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodPost, "/api/v1/orders", clientToken, gin.H{"delivery_date": "03/01/2025"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_DATE", env.Error)

	code, env = ts.do(t, http.MethodPost, "/api/v1/orders", clientToken, gin.H{"delivery_date": "2025-01-03", "comment": "Quai 2"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var order struct {
		ID      int64  `json:"id"`
		Number  string `json:"number"`
		TotalHT string `json:"total_ht"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.True(t, strings.HasPrefix(order.Number, "CMD-20250101-"))
	assert.Equal(t, "50.85", order.TotalHT)

	code, env = ts.do(t, http.MethodGet, "/api/v1/cart", clientToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), clientToken, nil)
	assert.Equal(t, http.StatusOK, code)

	// soft delete then restore
	code, env = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/orders/%d", order.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var archived struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &archived))

	code, env = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), clientToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error)

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/archives", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), order.Number)
	assert.Contains(t, string(env.Data), `"remaining_seconds":300`)

	code, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/archives/orders/%d/restore", archived.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), clientToken, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/archives/orders/%d/restore", archived.ID), adminToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error)

	// an expired archive cannot come back
	code, env = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/orders/%d", order.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &archived))
	ts.clock = ts.clock.Add(6 * time.Minute)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/archives/orders/%d/restore", archived.ID), adminToken, nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "EXPIRED", env.Error)

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/dashboard", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "permanently deleted")
}

func TestRegisterValidationOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	adminToken, _ := ts.seedAccounts(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/admin/users", adminToken, gin.H{
		"username":         "martin",
		"email":            "autre@martin.fr",
		"password":         "motdepasse",
		"password_confirm": "different",
		"client_code":      "999",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", env.Error)

	var fields []users.FieldError
	require.NoError(t, json.Unmarshal(env.Data, &fields))
	got := map[string]string{}
	for _, f := range fields {
		got[f.Field] = f.Message
	}
	assert.Equal(t, "passwords do not match", got["password_confirm"])
	assert.Equal(t, "is already taken", got["username"])
	assert.Equal(t, "unknown client code", got["client_code"])
}

func TestAuthOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, clientToken := ts.seedAccounts(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "martin", "password": "faux"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/catalog", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = ts.do(t, http.MethodGet, "/api/v1/catalog?q=porc", clientToken, nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Products []catalog.Product `json:"products"`
		Total    int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 2, view.Total)
	require.Len(t, view.Products, 1)
	assert.Equal(t, "P1", view.Products[0].Code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/auth/password-reset", "", gin.H{"email": "inconnu@nulle-part.fr"})
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = ts.do(t, http.MethodPost, "/api/v1/auth/password-reset", "", gin.H{"email": "contact@martin.fr"})
	assert.Equal(t, http.StatusAccepted, code)

	code, env = ts.do(t, http.MethodPut, "/api/v1/account/password", clientToken, gin.H{
		"current_password": "motdepasse", "password": "nouveau-mdp", "password_confirm": "nouveau-mdp",
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	ts.login(t, "martin", "nouveau-mdp")
}

func TestAdminClientsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	adminToken, _ := ts.seedAccounts(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/admin/clients?q=port", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "Café du Port")

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/clients/200/catalog", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "Côte de porc")

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/clients/100/catalog", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	var linked struct {
		Client  catalog.Client `json:"client"`
		Account *struct {
			Username string `json:"username"`
		} `json:"account"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &linked))
	assert.Equal(t, "Boucherie Martin", linked.Client.Name)
	require.NotNil(t, linked.Account)
	assert.Equal(t, "martin", linked.Account.Username)

	// unknown codes are shown under the code itself
	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/clients/999/catalog", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	var unknown struct {
		Client  catalog.Client  `json:"client"`
		Account json.RawMessage `json:"account"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &unknown))
	assert.Equal(t, catalog.Client{Code: "999", Name: "999"}, unknown.Client)
	assert.JSONEq(t, `null`, string(unknown.Account))

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/users/abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ID", env.Error)
}

func TestAdminClientsDegradeWhenDirectoryIsDown(t *testing.T) {
	ts := newTestServerWith(t, downDirectory{})
	adminToken := ts.seedAdmin(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/admin/clients?q=port", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/clients/200/catalog", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Client  catalog.Client `json:"client"`
		Catalog struct {
			Products []catalog.Product `json:"products"`
		} `json:"catalog"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, catalog.Client{Code: "200", Name: "200"}, res.Client)
	assert.Len(t, res.Catalog.Products, 2)
}

func TestAdminAccountManagementOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	adminToken, clientToken := ts.seedAccounts(t)

	code, _ := ts.do(t, http.MethodPost, "/api/v1/cart/items", clientToken, gin.H{"product_ref": "P1", "quantity": 2})
	require.Equal(t, http.StatusOK, code)
	code, env := ts.do(t, http.MethodPost, "/api/v1/orders", clientToken, gin.H{})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var order struct {
		ID     int64  `json:"id"`
		UserID int64  `json:"user_id"`
		Number string `json:"number"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))

	code, env = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/orders/%d", order.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	var detail struct {
		Number string `json:"number"`
		Lines  []struct {
			ProductRef string `json:"product_ref"`
		} `json:"lines"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, order.Number, detail.Number)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, "P1", detail.Lines[0].ProductRef)
	assert.Equal(t, "martin", detail.User.Username)

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/orders/9999", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error)

	code, env = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/users/%d/orders", order.UserID), adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), order.Number)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/admin/users/9999/orders", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = ts.do(t, http.MethodPut, fmt.Sprintf("/api/v1/admin/users/%d", order.UserID), adminToken, gin.H{
		"username": "admin", "email": "", "password": "court", "password_confirm": "court",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", env.Error)
	var fields []users.FieldError
	require.NoError(t, json.Unmarshal(env.Data, &fields))
	assert.Len(t, fields, 3)

	code, env = ts.do(t, http.MethodPut, fmt.Sprintf("/api/v1/admin/users/%d", order.UserID), adminToken, gin.H{
		"username": "boucherie-martin", "email": "compta@martin.fr",
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), "boucherie-martin")
	ts.login(t, "boucherie-martin", "motdepasse")
}

func TestAdminOrdersMetaEchoesEffectivePaging(t *testing.T) {
	ts := newTestServer(t)
	adminToken, _ := ts.seedAccounts(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/admin/orders?page=0&page_size=1000", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"page":1,"page_size":20,"total":0}`, string(env.Meta))

	code, env = ts.do(t, http.MethodGet, "/api/v1/admin/orders", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"page":1,"page_size":20,"total":0}`, string(env.Meta))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRespondErrorMapsConflict(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	respondError(c, fmt.Errorf("%w: order number CMD-1 is already in use", archive.ErrConflict))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"CONFLICT"`)
}
