// Package service holds small infrastructure adapters wired into the
// application layer.
package service

import "github.com/google/uuid"

// IDGenerator produces time-ordered UUIDs (v7) for attempts and ledger rows.
type IDGenerator struct{}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

func (g *IDGenerator) GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
