package auth

import "time"

// Account roles. Caretaker accounts exist in the product but have no
// live-tracking channel; the tracking package accepts only a subset.
const (
	RoleCustomer  = "customer"
	RoleDriver    = "driver"
	RoleCaretaker = "caretaker"
	RoleShuttle   = "shuttle"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func validRole(role string) bool {
	switch role {
	case RoleCustomer, RoleDriver, RoleCaretaker, RoleShuttle:
		return true
	}
	return false
}
