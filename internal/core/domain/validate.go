package domain

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxSessionIDLen    = 100
	maxEmailLen        = 255
	minCustomerNameLen = 2
	maxCustomerNameLen = 100
	minAddressLen      = 10
	maxAddressLen      = 500
)

var (
	emailPattern        = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	customerNamePattern = regexp.MustCompile(`^[a-zA-Z\s\-']+$`)
)

func ValidateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(sessionID) > maxSessionIDLen {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidSessionID, maxSessionIDLen)
	}
	return nil
}

func ValidateProductID(productID int64) error {
	if productID <= 0 {
		return fmt.Errorf("%w: must be a positive integer", ErrInvalidProductID)
	}
	return nil
}

// ValidateQuantity accepts 1..limit.
func ValidateQuantity(quantity, limit int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: must be a positive integer", ErrInvalidQuantity)
	}
	if quantity > limit {
		return fmt.Errorf("%w (max %d)", ErrQuantityExceedsCap, limit)
	}
	return nil
}

// NormalizeCustomer trims both fields, lower-cases the e-mail and validates them.
func NormalizeCustomer(c Customer) (Customer, error) {
	name := strings.TrimSpace(c.Name)
	if len(name) < minCustomerNameLen || len(name) > maxCustomerNameLen {
		return Customer{}, fmt.Errorf("%w: name must be %d-%d characters", ErrInvalidCustomer, minCustomerNameLen, maxCustomerNameLen)
	}
	if !customerNamePattern.MatchString(name) {
		return Customer{}, fmt.Errorf("%w: name contains invalid characters", ErrInvalidCustomer)
	}

	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" || !emailPattern.MatchString(email) {
		return Customer{}, fmt.Errorf("%w: invalid email address", ErrInvalidCustomer)
	}
	if len(email) > maxEmailLen {
		return Customer{}, fmt.Errorf("%w: email longer than %d characters", ErrInvalidCustomer, maxEmailLen)
	}
	return Customer{Name: name, Email: email}, nil
}

func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLen || !emailPattern.MatchString(email) {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidCustomer)
	}
	return email, nil
}

func NormalizeShippingAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if len(address) < minAddressLen || len(address) > maxAddressLen {
		return "", fmt.Errorf("%w: must be %d-%d characters", ErrInvalidShippingAddress, minAddressLen, maxAddressLen)
	}
	return address, nil
}
