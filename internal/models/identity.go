package models

import "time"

type Role string

const (
	RoleMember   Role = "member"
	RoleReviewer Role = "reviewer"
)

// Identity is the stored user record. PasswordHash never leaves the service layer.
type Identity struct {
	ID           string    `db:"id" json:"id"`
	Handle       string    `db:"handle" json:"handle"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	AvatarURL    string    `db:"avatar_url" json:"avatar_url,omitempty"`
	Verified     bool      `db:"verified" json:"verified"`
	Online       bool      `db:"online" json:"online"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Profile is what an identity sees about itself.
type Profile struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Verified    bool      `json:"verified"`
	Online      bool      `json:"online"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// PublicProfile is what other identities see.
type PublicProfile struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Verified    bool   `json:"verified"`
	Online      bool   `json:"online"`
}

func (i *Identity) Profile() Profile {
	return Profile{
		ID:          i.ID,
		Handle:      i.Handle,
		DisplayName: i.DisplayName,
		Email:       i.Email,
		AvatarURL:   i.AvatarURL,
		Verified:    i.Verified,
		Online:      i.Online,
		Role:        i.Role,
		CreatedAt:   i.CreatedAt,
	}
}

func (i *Identity) PublicProfile() PublicProfile {
	return PublicProfile{
		ID:          i.ID,
		Handle:      i.Handle,
		DisplayName: i.DisplayName,
		AvatarURL:   i.AvatarURL,
		Verified:    i.Verified,
		Online:      i.Online,
	}
}

func (i *Identity) IsReviewer() bool {
	return i.Role == RoleReviewer
}

// Session is returned by a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Profile   Profile   `json:"user"`
}
