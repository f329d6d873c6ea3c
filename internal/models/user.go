package models

import (
	"time"
)

// Roles resolved by the identity provider.
const (
	RoleClient  = "client"
	RoleDriver  = "driver"
	RolePartner = "partner"
	RoleAdmin   = "admin"
)

type User struct {
	ID        string    `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Role      string    `db:"role" json:"role"`
	Rating    float64   `db:"rating" json:"rating"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type CreateUserRequest struct {
	Phone string `json:"phone" validate:"required,min=10,max=15"`
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Role  string `json:"role" validate:"required,oneof=client driver partner admin"`
}

type UserResponse struct {
	ID     string  `json:"id"`
	Phone  string  `json:"phone"`
	Name   string  `json:"name"`
	Email  *string `json:"email,omitempty"`
	Role   string  `json:"role"`
	Rating float64 `json:"rating"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:     u.ID,
		Phone:  u.Phone,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
		Rating: u.Rating,
	}
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
