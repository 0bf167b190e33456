package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const stateIssuer = "dropsync"

var errInvalidState = errors.New("server: invalid oauth state")

// stateClaims travel through the Dropbox authorize redirect and come back
// on the callback, binding the resulting connection to its scope.
type stateClaims struct {
	jwt.RegisteredClaims
	OrgID     string `json:"org"`
	ProjectID string `json:"prj,omitempty"`
}

func (s *Server) signState(orgID, projectID string) (string, error) {
	now := s.nowFunc()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.StateTTL)),
		},
		OrgID:     orgID,
		ProjectID: projectID,
	})

	signed, err := token.SignedString(s.cfg.StateSecret)
	if err != nil {
		return "", fmt.Errorf("server: signing state: %w", err)
	}

	return signed, nil
}

func (s *Server) parseState(raw string) (*stateClaims, error) {
	claims := &stateClaims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.cfg.StateSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.nowFunc() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidState, err)
	}

	if claims.OrgID == "" {
		return nil, fmt.Errorf("%w: missing org", errInvalidState)
	}

	return claims, nil
}
