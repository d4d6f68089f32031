// Package model defines domain entities shared by the api, session and flow layers.
package model

import "time"

// Role is the account role assigned by the server.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// NotificationSettings toggles delivery channels.
type NotificationSettings struct {
	Email     bool `json:"email"`
	Push      bool `json:"push"`
	SMS       bool `json:"sms"`
	Marketing bool `json:"marketing"`
}

// PrivacySettings controls profile exposure.
type PrivacySettings struct {
	ProfileVisibility string `json:"profileVisibility"` // public | private | friends
	ShowEmail         bool   `json:"showEmail"`
	ShowLastSeen      bool   `json:"showLastSeen"`
}

// Preferences groups per-user UI and privacy settings.
type Preferences struct {
	Theme         string               `json:"theme"` // light | dark | auto
	Language      string               `json:"language"`
	Notifications NotificationSettings `json:"notifications"`
	Privacy       PrivacySettings      `json:"privacy"`
}

// User is the authenticated account as returned by the auth API.
type User struct {
	ID              string      `json:"id"`
	Email           string      `json:"email"`
	Username        string      `json:"username"`
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	Avatar          string      `json:"avatar,omitempty"`
	Role            Role        `json:"role"`
	IsEmailVerified bool        `json:"isEmailVerified"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	LastLoginAt     *time.Time  `json:"lastLoginAt,omitempty"`
	Preferences     Preferences `json:"preferences"`
}

// Clone returns a deep copy so callers can't mutate session-owned state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// ProfileUpdate is a partial user; nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName   *string      `json:"firstName,omitempty"`
	LastName    *string      `json:"lastName,omitempty"`
	Username    *string      `json:"username,omitempty"`
	Avatar      *string      `json:"avatar,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Username == nil && p.Avatar == nil && p.Preferences == nil
}

// ApplyTo merges the update into a copy of u.
func (p ProfileUpdate) ApplyTo(u *User) *User {
	c := u.Clone()
	if c == nil {
		return nil
	}
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		c.LastName = *p.LastName
	}
	if p.Username != nil {
		c.Username = *p.Username
	}
	if p.Avatar != nil {
		c.Avatar = *p.Avatar
	}
	if p.Preferences != nil {
		c.Preferences = *p.Preferences
	}
	return c
}

// LoginCredentials is the login form payload.
type LoginCredentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

// DateOfBirth keeps the raw form values; see validate.DateOfBirth for parsing.
type DateOfBirth struct {
	Day   string `json:"day"`
	Month string `json:"month"`
	Year  string `json:"year"`
}

// IsZero reports whether no component has been filled in.
func (d DateOfBirth) IsZero() bool { return d.Day == "" && d.Month == "" && d.Year == "" }

// RegisterData is the registration payload sent to the API.
type RegisterData struct {
	FirstName        string       `json:"firstName"`
	LastName         string       `json:"lastName"`
	Email            string       `json:"email"`
	Username         string       `json:"username"`
	Phone            string       `json:"phone,omitempty"`
	DateOfBirth      *DateOfBirth `json:"dateOfBirth,omitempty"`
	Password         string       `json:"password"`
	ConfirmPassword  string       `json:"confirmPassword"`
	VerificationCode string       `json:"verificationCode,omitempty"`
	AgreeToTerms     bool         `json:"agreeToTerms"`
	AgreeToMarketing bool         `json:"agreeToMarketing,omitempty"`
}

// AuthResponse is returned by login, register, refresh and social login.
type AuthResponse struct {
	User         User   `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds
}

// Tokens collects issued access/refresh tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics and refresh scheduling)
}

// APIError is the JSON error body produced by the auth API.
type APIError struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
