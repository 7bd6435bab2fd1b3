package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"extranet-system/internal/database/dbtest"
	"extranet-system/internal/database/models"
	"extranet-system/internal/services/catalog"
	"extranet-system/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var now = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

type stubDirectory struct {
	clients map[string]string
	err     error
}

func (d stubDirectory) Client(_ context.Context, ref catalog.ClientRef) (*catalog.Client, error) {
	if d.err != nil {
		return nil, d.err
	}
	name, ok := d.clients[ref.Code]
	if !ok {
		return nil, nil
	}
	return &catalog.Client{Code: ref.Code, Name: name}, nil
}

func (d stubDirectory) Search(context.Context, string, int) ([]catalog.Client, error) {
	return nil, nil
}

func (d stubDirectory) CountClients(context.Context) (int, error) { return len(d.clients), nil }

func newService(t *testing.T, dir catalog.Directory) *Service {
	t.Helper()
	svc := NewService(dbtest.New(t), dir, utils.NewTokenManager("test-secret", time.Hour))
	svc.bcryptCost = bcrypt.MinCost
	svc.now = func() time.Time { return now }
	return svc
}

var directory = stubDirectory{clients: map[string]string{"100": "Boucherie Martin", "200": "Café du Port"}}

func validInput() RegisterInput {
	return RegisterInput{
		Username:        "martin",
		Email:           "Contact@Martin.fr",
		Password:        "motdepasse",
		PasswordConfirm: "motdepasse",
		Firstname:       "Paul",
		Lastname:        "Martin",
		ClientCode:      "100",
	}
}

func fields(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected a ValidationError, got %v", err)
	out := make(map[string]string)
	for _, f := range verr.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func TestRegisterClientAccount(t *testing.T) {
	svc := newService(t, directory)
	user, err := svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "contact@martin.fr", user.Email)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsStaff)
	require.NotNil(t, user.Profile)
	assert.Equal(t, "100", user.Profile.ClientCode)
	assert.NotEqual(t, "motdepasse", user.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("motdepasse")))
}

func TestRegisterStaffAccountNeedsNoClient(t *testing.T) {
	svc := newService(t, directory)
	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "admin", Password: "motdepasse", PasswordConfirm: "motdepasse", IsStaff: true,
	})
	require.NoError(t, err)
	assert.True(t, user.IsStaff)
	assert.Nil(t, user.Profile)
}

func TestRegisterReportsEveryProblem(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Email = "CONTACT@martin.fr"
	in.PasswordConfirm = "autre"
	_, err = svc.Register(ctx, in)
	got := fields(t, err)
	assert.Equal(t, "passwords do not match", got["password_confirm"])
	assert.Equal(t, "is already taken", got["username"])
	assert.Equal(t, "is already used by another account", got["email"])
	assert.Equal(t, "client already has an account", got["client_code"])

	_, err = svc.Register(ctx, RegisterInput{Username: "dupont", Email: "pas-un-email", Password: "court", PasswordConfirm: "court", ClientCode: "999"})
	got = fields(t, err)
	assert.Equal(t, "is not a valid email address", got["email"])
	assert.Equal(t, "must be at least 8 characters", got["password"])
	assert.Equal(t, "unknown client code", got["client_code"])

	_, err = svc.Register(ctx, RegisterInput{})
	got = fields(t, err)
	assert.Contains(t, got, "username")
	assert.Contains(t, got, "password")
	assert.Contains(t, got, "email")
	assert.Contains(t, got, "client_code")

	var n int64
	require.NoError(t, svc.db.Model(&models.User{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestRegisterTreatsUnreachableDirectoryAsUnknownClient(t *testing.T) {
	svc := newService(t, stubDirectory{err: errors.New("connection refused")})
	_, err := svc.Register(context.Background(), validInput())
	assert.Equal(t, "unknown client code", fields(t, err)["client_code"])
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	registered, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Login(ctx, "martin", "mauvais")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "inconnu", "motdepasse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := svc.Login(ctx, "martin", "motdepasse")
	require.NoError(t, err)
	claims, err := svc.tokens.ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.UserId)
	assert.False(t, claims.IsStaff)

	stored, err := svc.User(ctx, registered.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(now))

	require.NoError(t, svc.db.Model(&models.User{}).Where("id = ?", registered.ID).UpdateColumn("is_active", false).Error)
	_, err = svc.Login(ctx, "martin", "motdepasse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	user, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, svc.RequestPasswordReset(ctx, " CONTACT@martin.fr "))
	require.NoError(t, svc.RequestPasswordReset(ctx, "contact@martin.fr"))
	require.NoError(t, svc.RequestPasswordReset(ctx, "personne@nulle-part.fr"))

	pending, err := svc.PendingResetRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, user.ID, pending[0].UserID)
	require.NotNil(t, pending[0].User)
	assert.Equal(t, "martin", pending[0].User.Username)

	err = svc.ChangePassword(ctx, user.ID, "motdepasse", "motdepasse")
	assert.Equal(t, "must differ from the current password", fields(t, err)["password"])
	err = svc.ChangePassword(ctx, user.ID, "nouveau-mdp", "autre")
	assert.Contains(t, fields(t, err), "password_confirm")

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "nouveau-mdp", "nouveau-mdp"))

	pending, err = svc.PendingResetRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var req models.PasswordResetRequest
	require.NoError(t, svc.db.First(&req).Error)
	assert.True(t, req.Processed)
	require.NotNil(t, req.ProcessedAt)

	_, err = svc.Login(ctx, "martin", "nouveau-mdp")
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, 9999, "x", "x"), ErrUserNotFound)
	assert.Contains(t, fields(t, svc.RequestPasswordReset(ctx, "  ")), "email")
}

func TestChangeOwnPassword(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	user, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	err = svc.ChangeOwnPassword(ctx, user.ID, "faux", "nouveau-mdp", "nouveau-mdp")
	assert.Equal(t, "is incorrect", fields(t, err)["current_password"])

	require.NoError(t, svc.ChangeOwnPassword(ctx, user.ID, "motdepasse", "nouveau-mdp", "nouveau-mdp"))
	_, err = svc.Login(ctx, "martin", "nouveau-mdp")
	assert.NoError(t, err)
}

func TestClientsListsNonStaffAccounts(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Username: "admin", Password: "motdepasse", PasswordConfirm: "motdepasse", IsStaff: true})
	require.NoError(t, err)

	clients, err := svc.Clients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "martin", clients[0].Username)
	require.NotNil(t, clients[0].Profile)
}

func TestUpdateAccount(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	user, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	updated, err := svc.Update(ctx, user.ID, UpdateInput{Username: " boucherie-martin ", Email: "Compta@Martin.fr"})
	require.NoError(t, err)
	assert.Equal(t, "boucherie-martin", updated.Username)
	assert.Equal(t, "compta@martin.fr", updated.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.Password), []byte("motdepasse")), "password kept when none is given")
	require.NotNil(t, updated.Profile)
	assert.Equal(t, "100", updated.Profile.ClientCode)

	updated, err = svc.Update(ctx, user.ID, UpdateInput{Username: "boucherie-martin", Email: "compta@martin.fr", Password: "nouveaumdp", PasswordConfirm: "nouveaumdp"})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.Password), []byte("nouveaumdp")))

	_, err = svc.Login(ctx, "boucherie-martin", "nouveaumdp")
	assert.NoError(t, err)
}

func TestUpdateReportsEveryProblem(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	martin, err := svc.Register(ctx, validInput())
	require.NoError(t, err)
	port := validInput()
	port.Username, port.Email, port.ClientCode = "port", "port@cafe.fr", "200"
	_, err = svc.Register(ctx, port)
	require.NoError(t, err)

	_, err = svc.Update(ctx, martin.ID, UpdateInput{Username: "port", Email: "PORT@cafe.fr", Password: "motdepasse", PasswordConfirm: "motdepasse"})
	got := fields(t, err)
	assert.Equal(t, map[string]string{
		"username": "is already taken",
		"email":    "is already used by another account",
		"password": "must differ from the current password",
	}, got)

	_, err = svc.Update(ctx, martin.ID, UpdateInput{Password: "court", PasswordConfirm: "autre"})
	got = fields(t, err)
	assert.Contains(t, got, "username")
	assert.Equal(t, "is required", got["email"])
	assert.Equal(t, "passwords do not match", got["password_confirm"])

	reloaded, err := svc.User(ctx, martin.ID)
	require.NoError(t, err)
	assert.Equal(t, "martin", reloaded.Username)
}

func TestUpdateKeepsOwnNameAndEmail(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	martin, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Update(ctx, martin.ID, UpdateInput{Username: "martin", Email: "contact@martin.fr"})
	assert.NoError(t, err)

	_, err = svc.Update(ctx, martin.ID+100, UpdateInput{Username: "x", Email: "x@y.fr"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAccountForClient(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, directory)
	martin, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	account, err := svc.AccountForClient(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, martin.ID, account.ID)

	account, err = svc.AccountForClient(ctx, "200")
	require.NoError(t, err)
	assert.Nil(t, account)
}
