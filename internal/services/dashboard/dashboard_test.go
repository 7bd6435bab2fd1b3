package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"extranet-system/internal/database/dbtest"
	"extranet-system/internal/database/models"
	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/catalog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubDirectory struct {
	names map[string]string
	err   error
}

func (d stubDirectory) Client(_ context.Context, ref catalog.ClientRef) (*catalog.Client, error) {
	if d.err != nil {
		return nil, d.err
	}
	name, ok := d.names[ref.Code]
	if !ok {
		return nil, nil
	}
	return &catalog.Client{Code: ref.Code, Name: name}, nil
}

func (d stubDirectory) Search(context.Context, string, int) ([]catalog.Client, error) {
	return nil, nil
}

func (d stubDirectory) CountClients(context.Context) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	return len(d.names), nil
}

func at(hour, min int) time.Time {
	return time.Date(2025, 1, 1, hour, min, 0, 0, time.UTC)
}

func createOrder(t *testing.T, db *gorm.DB, userID int64, number string, createdAt time.Time) models.Order {
	t.Helper()
	o := models.Order{
		UserID:    userID,
		Number:    number,
		CreatedAt: createdAt,
		TotalHT:   decimal.RequireFromString("25.00"),
		Lines: []models.OrderLine{
			{Position: 1, ProductRef: "P1", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("12.50")},
		},
	}
	require.NoError(t, db.Omit("User").Create(&o).Error)
	return o
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	now := at(9, 55)
	dir := stubDirectory{names: map[string]string{"100": "Boucherie Martin", "200": "Café du Port"}}
	archives := archive.NewService(db, dir, nil, nil, archive.Options{
		GracePeriod:  5 * time.Minute,
		AuditExpired: true,
		Now:          func() time.Time { return now },
	})
	svc := NewService(db, archives, dir, 24*time.Hour)

	martin := models.User{Username: "martin", Password: "x", IsActive: true, CreatedAt: time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC)}
	require.NoError(t, db.Create(&martin).Error)
	require.NoError(t, db.Create(&models.Profile{UserID: martin.ID, ClientCode: "100"}).Error)
	admin := models.User{Username: "admin", Password: "x", IsStaff: true, IsActive: true}
	require.NoError(t, db.Create(&admin).Error)

	o1 := createOrder(t, db, martin.ID, "CMD-20250101-1111", at(9, 0))
	o2 := createOrder(t, db, martin.ID, "CMD-20250101-2222", at(9, 30))
	o3 := createOrder(t, db, martin.ID, "CMD-20250101-3333", at(9, 40))

	_, err := archives.DeleteOrder(ctx, o1.ID)
	require.NoError(t, err)
	now = at(10, 3)
	archived, err := archives.DeleteOrder(ctx, o2.ID)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.PasswordResetRequest{UserID: martin.ID, CreatedAt: at(8, 0)}).Error)

	now = at(10, 5)
	d, err := svc.Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, archive.SweepResult{Orders: 1}, d.Swept)
	assert.Equal(t, int64(1), d.Stats.Users)
	assert.Equal(t, int64(1), d.Stats.Orders)
	require.NotNil(t, d.Stats.Clients)
	assert.Equal(t, 2, *d.Stats.Clients)

	require.Len(t, d.PendingOrders, 1)
	assert.Equal(t, archived.ID, d.PendingOrders[0].ID)
	assert.Equal(t, "Boucherie Martin", d.PendingOrders[0].ClientName)
	assert.Equal(t, "25.00", d.PendingOrders[0].TotalHT)
	assert.Equal(t, 180, d.PendingOrders[0].RemainingSeconds)
	assert.Empty(t, d.PendingUsers)

	require.Len(t, d.Activities, 4)
	assert.Equal(t, ActivityOrderPurged, d.Activities[0].Type)
	assert.Equal(t, "Order CMD-20250101-1111 permanently deleted (Boucherie Martin)", d.Activities[0].Description)
	assert.Equal(t, ActivityOrderArchived, d.Activities[1].Type)
	require.NotNil(t, d.Activities[1].RemainingSeconds)
	assert.Equal(t, 180, *d.Activities[1].RemainingSeconds)
	assert.Equal(t, ActivityOrder, d.Activities[2].Type)
	assert.Equal(t, o3.ID, d.Activities[2].RefID)
	assert.Equal(t, "New order CMD-20250101-3333 placed by Boucherie Martin", d.Activities[2].Description)
	assert.Equal(t, ActivityUser, d.Activities[3].Type)
	assert.Equal(t, "New user created: Boucherie Martin (martin)", d.Activities[3].Description)

	require.Len(t, d.ResetRequests, 1)
	assert.Equal(t, "martin", d.ResetRequests[0].Username)
	assert.Equal(t, "Boucherie Martin", d.ResetRequests[0].ClientName)
}

func TestBuildKeepsFiveMostRecentActivities(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	now := at(12, 0)
	archives := archive.NewService(db, nil, nil, nil, archive.Options{Now: func() time.Time { return now }})
	svc := NewService(db, archives, nil, 0)

	user := models.User{Username: "martin", Password: "x", IsActive: true, CreatedAt: at(7, 0)}
	require.NoError(t, db.Create(&user).Error)
	for i, number := range []string{"CMD-20250101-1001", "CMD-20250101-1002", "CMD-20250101-1003", "CMD-20250101-1004", "CMD-20250101-1005", "CMD-20250101-1006"} {
		createOrder(t, db, user.ID, number, at(8+i, 0))
	}

	d, err := svc.Build(ctx)
	require.NoError(t, err)
	require.Len(t, d.Activities, RecentLimit)
	assert.Equal(t, "New order CMD-20250101-1006 placed by ", d.Activities[0].Description)
	for i := 1; i < len(d.Activities); i++ {
		assert.False(t, d.Activities[i].At.After(d.Activities[i-1].At))
	}
	for _, a := range d.Activities {
		assert.Equal(t, ActivityOrder, a.Type)
	}
	assert.Nil(t, d.Stats.Clients)
}

func TestBuildDegradesWithoutDirectory(t *testing.T) {
	db := dbtest.New(t)
	dir := stubDirectory{err: errors.New("connection refused")}
	archives := archive.NewService(db, dir, nil, nil, archive.Options{})
	svc := NewService(db, archives, dir, 0)

	d, err := svc.Build(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d.Stats.Clients)
	assert.Empty(t, d.Activities)
}
