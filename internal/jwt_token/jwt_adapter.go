package jwttoken

import (
	"cardvault/pkg/domain"
)

// JWTServiceAdapter narrows JWTService to the middleware's CallerValidator
// contract: token in, caller address out.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (domain.Address, error) {
	return a.service.ExtractAddressFromToken(tokenString)
}
