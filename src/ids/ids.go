// Package ids generates opaque unique identifiers for connections,
// sessions, and correlation ids.
package ids

import "github.com/google/uuid"

// Generator produces opaque unique identifiers.
type Generator interface {
	New() string
}

// UUIDGenerator is the default Generator, using google/uuid for
// connection and session ids.
type UUIDGenerator struct{}

// New returns a new UUIDGenerator.
func New() *UUIDGenerator { return &UUIDGenerator{} }

// New generates a new v4 UUID string.
func (UUIDGenerator) New() string {
	return uuid.New().String()
}
