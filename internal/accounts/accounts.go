// Package accounts implements login, profiles, activation links and admin
// user management.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"lumavet.pet/lumavet/internal/authz"
	"lumavet.pet/lumavet/internal/domain"
	"lumavet.pet/lumavet/internal/media"
	"lumavet.pet/lumavet/internal/metrics"
	"lumavet.pet/lumavet/internal/store"
	"lumavet.pet/lumavet/internal/validate"
)

// MinPasswordLength is the shortest password accepted
const MinPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrInactive           = errors.New("account is not active")
)

// Options configures a Service
type Options struct {
	SiteURL    string
	BcryptCost int
}

// Service owns user accounts
type Service struct {
	users   store.UserStore
	tokens  *authz.TokenManager
	media   *media.Storage
	siteURL string
	cost    int
	now     func() time.Time
}

// NewService creates the account service
func NewService(users store.UserStore, tokens *authz.TokenManager, files *media.Storage, opts Options) *Service {
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		users:   users,
		tokens:  tokens,
		media:   files,
		siteURL: strings.TrimRight(opts.SiteURL, "/"),
		cost:    cost,
		now:     time.Now,
	}
}

// Session is a signed-in user and its token
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"-"`
}

// Login checks credentials and opens a session. Username lookup is
// case-insensitive; an email address is accepted as well.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		metrics.RecordLogin(metrics.ResultInvalid)
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) && strings.Contains(username, "@") {
		u, err = s.users.GetUserByEmail(ctx, username)
	}
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordLogin(metrics.ResultDenied)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !u.Active || !u.HasUsablePassword() {
		metrics.RecordLogin(metrics.ResultDenied)
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		metrics.RecordLogin(metrics.ResultDenied)
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	u.LastLoginAt = &now
	u.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	metrics.RecordLogin(metrics.ResultSuccess)
	log.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("User logged in")
	return s.openSession(u)
}

func (s *Service) openSession(u *domain.User) (*Session, error) {
	tok, exp, err := s.tokens.IssueSession(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

// Authenticate resolves a session token to its active user
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokens.ParseSession(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, authz.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrInactive
	}
	if !authz.SessionStillValid(claims, u) {
		return nil, authz.ErrTokenUsed
	}
	return u, nil
}

// Me is the caller's account view
type Me struct {
	User    *domain.User    `json:"user"`
	Profile *domain.Profile `json:"profile"`
	IsAdmin bool            `json:"is_admin"`
}

// Me returns u with its profile, creating the profile on first access
func (s *Service) Me(ctx context.Context, u *domain.User) (*Me, error) {
	p, err := s.profile(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Me{User: u, Profile: p, IsAdmin: authz.IsAdmin(u)}, nil
}

func (s *Service) profile(ctx context.Context, userID string) (*domain.Profile, error) {
	p, err := s.users.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		p = &domain.Profile{UserID: userID, UpdatedAt: s.now().UTC()}
		if err := s.users.SaveProfile(ctx, p); err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// ProfileUpdate is the profile form. Nil pointers leave the field unchanged.
type ProfileUpdate struct {
	FirstName   *string
	Email       *string
	Whatsapp    *string
	NewPassword string

	Photo     io.Reader
	PhotoName string
}

var photoExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// UpdateProfile applies upd to u. When the password changes a fresh session
// is returned so the caller stays signed in.
func (s *Service) UpdateProfile(ctx context.Context, u *domain.User, upd ProfileUpdate) (*Me, *Session, error) {
	verr := validate.New()
	if upd.Email != nil {
		email := strings.TrimSpace(*upd.Email)
		if email != "" && !validate.Email(email) {
			verr.Add("email", "enter a valid email address")
		}
		upd.Email = &email
	}
	if upd.NewPassword != "" && len(upd.NewPassword) < MinPasswordLength {
		verr.Add("new_password", fmt.Sprintf("password must have at least %d characters", MinPasswordLength))
	}
	ext := strings.ToLower(path.Ext(upd.PhotoName))
	if upd.Photo != nil && !photoExtensions[ext] {
		verr.Add("photo", "photo must be a JPEG, PNG, WEBP or GIF image")
	}
	if err := verr.Err(); err != nil {
		return nil, nil, err
	}

	p, err := s.profile(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()

	if upd.FirstName != nil {
		u.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.NewPassword != "" {
		hash, err := s.hash(upd.NewPassword)
		if err != nil {
			return nil, nil, err
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, validate.Field("email", "email already in use")
		}
		return nil, nil, fmt.Errorf("update user: %w", err)
	}

	if upd.Whatsapp != nil {
		p.Whatsapp = strings.TrimSpace(*upd.Whatsapp)
	}
	if upd.Photo != nil {
		photoPath := path.Join("profile_photos", u.ID+ext)
		if _, err := s.media.Save(photoPath, upd.Photo); err != nil {
			return nil, nil, fmt.Errorf("store photo: %w", err)
		}
		if p.PhotoPath != "" && p.PhotoPath != photoPath {
			if err := s.media.Remove(p.PhotoPath); err != nil {
				log.Warn().Err(err).Str("path", p.PhotoPath).Msg("Failed to remove previous profile photo")
			}
		}
		p.PhotoPath = photoPath
	}
	p.UpdatedAt = now
	if err := s.users.SaveProfile(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("save profile: %w", err)
	}

	var sess *Session
	if upd.NewPassword != "" {
		if sess, err = s.openSession(u); err != nil {
			return nil, nil, err
		}
	}
	log.Info().Str("user_id", u.ID).Bool("password_changed", sess != nil).Msg("Profile updated")
	return &Me{User: u, Profile: p, IsAdmin: authz.IsAdmin(u)}, sess, nil
}

// OpenPhoto returns the stored profile photo of userID
func (s *Service) OpenPhoto(ctx context.Context, userID string) (io.ReadCloser, string, error) {
	p, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if p.PhotoPath == "" {
		return nil, "", store.ErrNotFound
	}
	f, err := s.media.Open(p.PhotoPath)
	if errors.Is(err, media.ErrNotFound) {
		return nil, "", store.ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return f, p.PhotoPath, nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// ActivationLink builds the first-access link for u
func (s *Service) ActivationLink(u *domain.User) (string, error) {
	tok, err := s.tokens.IssueActivation(u)
	if err != nil {
		return "", err
	}
	return s.siteURL + "/activate/" + authz.EncodeUID(u.ID) + "/" + tok, nil
}

// Activate sets the first password of the account named by uidb64 and signs it in
func (s *Service) Activate(ctx context.Context, uidb64, token, password string) (*Session, error) {
	id, err := authz.DecodeUID(uidb64)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, authz.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if err := s.tokens.VerifyActivation(u, token); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, validate.Field("password", fmt.Sprintf("password must have at least %d characters", MinPasswordLength))
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u.PasswordHash = hash
	u.Active = true
	u.LastLoginAt = &now
	u.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}

	log.Info().Str("user_id", u.ID).Msg("Account activated")
	return s.openSession(u)
}

// NewUser is the admin create-user form
type NewUser struct {
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	Password  string      `json:"password"`
	Role      domain.Role `json:"role"`
	Superuser bool        `json:"superuser"`
}

// CreateUser registers an active account. A blank password leaves the
// account without login until it is activated.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Role == "" {
		in.Role = domain.RoleBasic
	}

	verr := validate.New()
	if in.Username == "" {
		verr.Add("username", "this field is required")
	} else if len(in.Username) > 150 || strings.ContainsAny(in.Username, " \t\n") {
		verr.Add("username", "enter a valid username")
	}
	if in.Email != "" && !validate.Email(in.Email) {
		verr.Add("email", "enter a valid email address")
	}
	if in.Password != "" && len(in.Password) < MinPasswordLength {
		verr.Add("password", fmt.Sprintf("password must have at least %d characters", MinPasswordLength))
	}
	if !in.Role.IsValid() {
		verr.Add("role", "unknown role")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &domain.User{
		ID:        uuid.NewString(),
		Username:  in.Username,
		Email:     in.Email,
		FirstName: strings.TrimSpace(in.FirstName),
		Role:      in.Role,
		Superuser: in.Superuser,
		Active:    in.Password != "",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Password != "" {
		hash, err := s.hash(in.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, validate.Field("username", "a user with that username or email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.Info().Str("user_id", u.ID).Str("username", u.Username).Str("role", string(u.Role)).Msg("User created")
	return u, nil
}

// AdminUpdate changes role and active flag. Nil leaves the value unchanged.
type AdminUpdate struct {
	Role      *domain.Role `json:"role"`
	Active    *bool        `json:"active"`
	Superuser *bool        `json:"superuser"`
}

// UpdateUser applies an admin change to the account id
func (s *Service) UpdateUser(ctx context.Context, id string, upd AdminUpdate) (*domain.User, error) {
	if upd.Role != nil && !upd.Role.IsValid() {
		return nil, validate.Field("role", "unknown role")
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.Superuser != nil {
		u.Superuser = *upd.Superuser
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Bool("active", u.Active).Msg("User updated by admin")
	return u, nil
}

// ListUsers returns every account
func (s *Service) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.users.ListUsers(ctx)
}

// Invite returns the account with email, creating an inactive tutor-role
// account without password when none exists
func (s *Service) Invite(ctx context.Context, email, name string) (*domain.User, bool, error) {
	email = strings.TrimSpace(email)
	if !validate.Email(email) {
		return nil, false, validate.Field("email", "enter a valid email address")
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	u = &domain.User{
		ID:        uuid.NewString(),
		Username:  strings.ToLower(email),
		Email:     email,
		FirstName: strings.TrimSpace(name),
		Role:      domain.RoleTutor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.users.CreateUser(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		u, err = s.users.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, false, fmt.Errorf("invite %s: %w", email, store.ErrConflict)
		}
		return u, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("invite: %w", err)
	}
	log.Info().Str("user_id", u.ID).Msg("Invited account created")
	return u, true, nil
}
