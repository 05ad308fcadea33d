package api

import (
	"time"

	"lumavet.pet/lumavet/internal/accounts"
	"lumavet.pet/lumavet/internal/authz"
	"lumavet.pet/lumavet/internal/domain"
)

// userView is the public shape of an account; it never carries the hash
type userView struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	FirstName   string      `json:"first_name"`
	Role        domain.Role `json:"role"`
	Superuser   bool        `json:"superuser"`
	Active      bool        `json:"active"`
	IsAdmin     bool        `json:"is_admin"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func newUserView(u *domain.User) userView {
	return userView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		Role:        u.Role,
		Superuser:   u.Superuser,
		Active:      u.Active,
		IsAdmin:     authz.IsAdmin(u),
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

type profileView struct {
	Whatsapp  string    `json:"whatsapp"`
	HasPhoto  bool      `json:"has_photo"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type meView struct {
	User    userView    `json:"user"`
	Profile profileView `json:"profile"`
	IsAdmin bool        `json:"is_admin"`
	// Token is set when the request rotated the session
	Token string `json:"token,omitempty"`
}

func newMeView(me *accounts.Me) meView {
	v := meView{User: newUserView(me.User), IsAdmin: me.IsAdmin}
	if me.Profile != nil {
		v.Profile = profileView{
			Whatsapp:  me.Profile.Whatsapp,
			HasPhoto:  me.Profile.PhotoPath != "",
			UpdatedAt: me.Profile.UpdatedAt,
		}
		if v.Profile.HasPhoto {
			v.Profile.PhotoURL = "/api/me/photo"
		}
	}
	return v
}

type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

func newSessionView(s *accounts.Session) sessionView {
	return sessionView{Token: s.Token, ExpiresAt: s.ExpiresAt, User: newUserView(s.User)}
}
