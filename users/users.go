package users

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-oidc-engine/grants"
)

// RoleType is a role emitted in the role claim.
type RoleType string

const (
	RoleAdmin  RoleType = "admin"
	RoleUser   RoleType = "user"
	RoleViewer RoleType = "viewer"
)

// Standard OpenID Connect claim types served from the user profile.
const (
	ClaimName              = "name"
	ClaimGivenName         = "given_name"
	ClaimFamilyName        = "family_name"
	ClaimEmail             = "email"
	ClaimEmailVerified     = "email_verified"
	ClaimPreferredUsername = "preferred_username"
	ClaimRole              = "role"
	ClaimUpdatedAt         = "updated_at"
)

type User struct {
	ID           string    `json:"id,omitempty"`          // Unique identifier, the sub claim
	Email        string    `json:"email,omitempty"`       // User's email address
	Username     string    `json:"username,omitempty"`    // Unique username
	PasswordHash string    `json:"-"`                     // Hashed version of the user's password - never serialize
	FirstName    string    `json:"first_name,omitempty"`  // First name of the user
	LastName     string    `json:"last_name,omitempty"`   // Last name of the user
	DateJoined   time.Time `json:"date_joined,omitempty"` // Date and time when the user registered
	LastLogin    time.Time `json:"last_login,omitempty"`  // Last time the user logged in
	UpdatedAt    time.Time `json:"updated_at,omitempty"`

	Roles []RoleType `json:"roles,omitempty"`

	Verified               bool `json:"verified,omitempty"`                 // Verified, has the user verified who they are
	Blocked                bool `json:"blocked,omitempty"`                  // Blocked, has the user been blocked from logging in
	PasswordChangeRequired bool `json:"password_change_required,omitempty"` // PasswordChangeRequired, forces password reset on next login
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// IsActive reports whether the user may receive tokens.
func (u *User) IsActive() bool {
	return u.Verified && !u.Blocked
}

func (u *User) HasRole(role RoleType) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DisplayName is the full name, falling back to the username.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Claims returns every profile claim of the user. Empty attributes are omitted.
func (u *User) Claims() []grants.Claim {
	claims := []grants.Claim{{Type: grants.ClaimSubject, Value: u.ID}}
	add := func(claimType, value string) {
		if value != "" {
			claims = append(claims, grants.Claim{Type: claimType, Value: value})
		}
	}
	add(ClaimName, u.DisplayName())
	add(ClaimGivenName, u.FirstName)
	add(ClaimFamilyName, u.LastName)
	add(ClaimPreferredUsername, u.Username)
	add(ClaimEmail, u.Email)
	if u.Email != "" {
		add(ClaimEmailVerified, strconv.FormatBool(u.Verified))
	}
	if !u.UpdatedAt.IsZero() {
		add(ClaimUpdatedAt, strconv.FormatInt(u.UpdatedAt.Unix(), 10))
	}
	for _, r := range u.Roles {
		add(ClaimRole, string(r))
	}
	return claims
}
