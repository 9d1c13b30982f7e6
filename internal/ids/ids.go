package ids

import "github.com/google/uuid"

// Provider issues opaque unique identifiers.
type Provider interface {
	NewID() (string, error)
}

type randomProvider struct{}

// NewRandomProvider issues UUIDv4 identifiers; used for door ids that are printed into QR codes.
func NewRandomProvider() Provider {
	return randomProvider{}
}

func (randomProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type timeOrderedProvider struct{}

// NewTimeOrderedProvider issues UUIDv7 identifiers.
func NewTimeOrderedProvider() Provider {
	return timeOrderedProvider{}
}

func (timeOrderedProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
