package auth

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"webchat/errors"
)

var validate = validator.New()

// Credentials is the shape every register and login attempt must satisfy.
// The room imposes no password complexity rules; emptiness is the only
// condition rejected before touching the store.
type Credentials struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,max=256"`
}

// ValidateCredentials rejects blank or oversized credentials up front,
// before any expensive cryptographic operation.
func ValidateCredentials(c Credentials) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrEmptyCredentials, err)
	}
	return nil
}
