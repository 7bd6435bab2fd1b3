// Package users manages extranet accounts: registration by an
// administrator, login, password changes and password-reset requests.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"extranet-system/internal/database/models"
	"extranet-system/internal/services/catalog"
	"extranet-system/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const MinPasswordLength = 8

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every problem found in a request.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type Service struct {
	db         *gorm.DB
	directory  catalog.Directory
	tokens     *utils.TokenManager
	validate   *validator.Validate
	bcryptCost int
	now        func() time.Time
}

func NewService(db *gorm.DB, directory catalog.Directory, tokens *utils.TokenManager) *Service {
	return &Service{
		db:         db,
		directory:  directory,
		tokens:     tokens,
		validate:   validator.New(),
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

type RegisterInput struct {
	Username        string `json:"username" validate:"required,max=150"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"eqfield=Password"`
	Firstname       string `json:"firstname" validate:"max=150"`
	Lastname        string `json:"lastname" validate:"max=150"`
	ClientCode      string `json:"client_code" validate:"max=20"`
	IsStaff         bool   `json:"is_staff"`
}

var fieldNames = map[string]string{
	"Username":        "username",
	"Email":           "email",
	"Password":        "password",
	"PasswordConfirm": "password_confirm",
	"Firstname":       "firstname",
	"Lastname":        "lastname",
	"ClientCode":      "client_code",
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "is not a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "eqfield":
		return "passwords do not match"
	}
	return "is invalid"
}

// Register creates an account. Client accounts need an email and a client
// code known to the directory, and a client can only have one account.
// Staff accounts are not linked to a client.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.ClientCode = strings.TrimSpace(in.ClientCode)

	verr := &ValidationError{}
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("users: validate: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(fieldNames[fe.StructField()], describe(fe))
		}
	}

	if !in.IsStaff {
		if in.Email == "" {
			verr.add("email", "is required")
		}
		if in.ClientCode == "" {
			verr.add("client_code", "is required")
		}
	}

	db := s.db.WithContext(ctx)
	if in.Username != "" {
		taken, err := exists(db.Model(&models.User{}).Where("username = ?", in.Username))
		if err != nil {
			return nil, fmt.Errorf("users: check username: %w", err)
		}
		if taken {
			verr.add("username", "is already taken")
		}
	}
	if in.Email != "" {
		taken, err := exists(db.Model(&models.User{}).Where("LOWER(email) = ?", in.Email))
		if err != nil {
			return nil, fmt.Errorf("users: check email: %w", err)
		}
		if taken {
			verr.add("email", "is already used by another account")
		}
	}
	if !in.IsStaff && in.ClientCode != "" {
		linked, err := exists(db.Model(&models.Profile{}).Where("client_code = ?", in.ClientCode))
		if err != nil {
			return nil, fmt.Errorf("users: check client: %w", err)
		}
		if linked {
			verr.add("client_code", "client already has an account")
		} else if _, ok := catalog.ClientName(ctx, s.directory, catalog.ClientRef{Code: in.ClientCode}); !ok {
			verr.add("client_code", "unknown client code")
		}
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	user := models.User{
		Username:  in.Username,
		Email:     in.Email,
		Password:  string(hash),
		Firstname: strings.TrimSpace(in.Firstname),
		Lastname:  strings.TrimSpace(in.Lastname),
		IsStaff:   in.IsStaff,
		IsActive:  true,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if in.IsStaff {
			return nil
		}
		profile := models.Profile{UserID: user.ID, ClientCode: in.ClientCode}
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}
		user.Profile = &profile
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("users: create %s: %w", in.Username, err)
	}

	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Bool("staff", user.IsStaff).Msg("account registered")
	return &user, nil
}

func exists(q *gorm.DB) (bool, error) {
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Preload("Profile").
		Where("username = ? AND is_active = ?", strings.TrimSpace(username), true).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("users: login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.tokens.GenerateToken(user.ID, user.Username, user.IsStaff)
	if err != nil {
		return nil, fmt.Errorf("users: sign token: %w", err)
	}

	now := s.now()
	user.LastLogin = &now
	if err := s.db.WithContext(ctx).Model(&user).UpdateColumn("last_login", now).Error; err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to record last login")
	}

	return &LoginResult{Token: token, ExpiresAt: exp, User: &user}, nil
}

func (s *Service) User(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Profile").First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: load %d: %w", id, err)
	}
	return &user, nil
}

// Clients lists the client accounts, by username.
func (s *Service) Clients(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Preload("Profile").
		Where("is_staff = ?", false).
		Order("username").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return users, nil
}

// AccountForClient returns the extranet account linked to a client code, or
// nil when the client has none.
func (s *Service) AccountForClient(ctx context.Context, clientCode string) (*models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Preload("Profile").
		Joins("JOIN profiles ON profiles.user_id = users.id").
		Where("profiles.client_code = ?", strings.TrimSpace(clientCode)).
		Limit(1).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("users: account for client %s: %w", clientCode, err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

type UpdateInput struct {
	Username        string `json:"username" validate:"required,max=150"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// Update lets an administrator rename an account, change its email and
// optionally set a new password. Every problem is reported together.
func (s *Service) Update(ctx context.Context, userID int64, in UpdateInput) (*models.User, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	verr := &ValidationError{}
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("users: validate: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(fieldNames[fe.StructField()], describe(fe))
		}
	}
	if !user.IsStaff && in.Email == "" {
		verr.add("email", "is required")
	}

	db := s.db.WithContext(ctx)
	if in.Username != "" && in.Username != user.Username {
		taken, err := exists(db.Model(&models.User{}).Where("username = ? AND id <> ?", in.Username, userID))
		if err != nil {
			return nil, fmt.Errorf("users: check username: %w", err)
		}
		if taken {
			verr.add("username", "is already taken")
		}
	}
	if in.Email != "" && in.Email != strings.ToLower(user.Email) {
		taken, err := exists(db.Model(&models.User{}).Where("LOWER(email) = ? AND id <> ?", in.Email, userID))
		if err != nil {
			return nil, fmt.Errorf("users: check email: %w", err)
		}
		if taken {
			verr.add("email", "is already used by another account")
		}
	}
	if in.Password != "" || in.PasswordConfirm != "" {
		s.checkNewPassword(verr, user.Password, in.Password, in.PasswordConfirm)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	changes := map[string]interface{}{
		"username": in.Username,
		"email":    in.Email,
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("users: hash password: %w", err)
		}
		changes["password"] = string(hash)
	}
	if err := db.Model(&models.User{}).Where("id = ?", userID).Updates(changes).Error; err != nil {
		return nil, fmt.Errorf("users: update %d: %w", userID, err)
	}

	log.Info().Int64("user_id", userID).Str("username", in.Username).Bool("password_changed", in.Password != "").Msg("account updated")
	return s.User(ctx, userID)
}

func (s *Service) checkNewPassword(verr *ValidationError, current, password, confirm string) {
	switch {
	case password == "":
		verr.add("password", "is required")
	case password != confirm:
		verr.add("password_confirm", "passwords do not match")
	case len(password) < MinPasswordLength:
		verr.add("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	case bcrypt.CompareHashAndPassword([]byte(current), []byte(password)) == nil:
		verr.add("password", "must differ from the current password")
	}
}

// ChangePassword sets a new password for a user on behalf of an
// administrator. Pending reset requests of that user are marked processed.
func (s *Service) ChangePassword(ctx context.Context, userID int64, password, confirm string) error {
	user, err := s.User(ctx, userID)
	if err != nil {
		return err
	}

	verr := &ValidationError{}
	s.checkNewPassword(verr, user.Password, password, confirm)
	if err := verr.orNil(); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("users: hash password: %w", err)
	}

	now := s.now()
	var resolved int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).UpdateColumn("password", string(hash)).Error; err != nil {
			return err
		}
		res := tx.Model(&models.PasswordResetRequest{}).
			Where("user_id = ? AND processed = ?", userID, false).
			Updates(map[string]interface{}{"processed": true, "processed_at": now})
		resolved = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("users: change password of %d: %w", userID, err)
	}

	log.Info().Int64("user_id", userID).Int64("resets_resolved", resolved).Msg("password changed by administrator")
	return nil
}

// ChangeOwnPassword lets a logged-in user replace their password after
// proving the current one.
func (s *Service) ChangeOwnPassword(ctx context.Context, userID int64, current, password, confirm string) error {
	user, err := s.User(ctx, userID)
	if err != nil {
		return err
	}

	verr := &ValidationError{}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)) != nil {
		verr.add("current_password", "is incorrect")
	}
	s.checkNewPassword(verr, user.Password, password, confirm)
	if err := verr.orNil(); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("users: hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(user).UpdateColumn("password", string(hash)).Error; err != nil {
		return fmt.Errorf("users: change password of %d: %w", userID, err)
	}
	return nil
}

// RequestPasswordReset records that the owner of email needs a new
// password. Unknown addresses are accepted silently and a user never has
// more than one pending request.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		verr := &ValidationError{}
		verr.add("email", "is required")
		return verr
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = ? AND is_active = ?", email, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Info().Msg("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("users: reset request: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pending, err := exists(tx.Model(&models.PasswordResetRequest{}).Where("user_id = ? AND processed = ?", user.ID, false))
		if err != nil || pending {
			return err
		}
		req := models.PasswordResetRequest{UserID: user.ID, CreatedAt: s.now()}
		if err := tx.Create(&req).Error; err != nil {
			return fmt.Errorf("users: reset request: %w", err)
		}
		log.Info().Int64("user_id", user.ID).Msg("password reset requested")
		return nil
	})
}

// PendingResetRequests lists unprocessed reset requests, newest first.
func (s *Service) PendingResetRequests(ctx context.Context) ([]models.PasswordResetRequest, error) {
	var reqs []models.PasswordResetRequest
	err := s.db.WithContext(ctx).Preload("User").
		Where("processed = ?", false).
		Order("created_at DESC, id DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("users: pending resets: %w", err)
	}
	return reqs, nil
}
