package common

import (
	"github.com/google/uuid"
)

// NewAnonID generates a 36-char UUID identifying an anonymous visitor.
func NewAnonID() string {
	return uuid.New().String()
}

// NewDecisionID generates a unique bandit decision ID with the "bd_" prefix.
// Format: bd_<uuid>
func NewDecisionID() string {
	return "bd_" + uuid.New().String()
}
