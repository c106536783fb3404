package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/EternisAI/silo-config/internal/secrets"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator is an administrator account declared in configuration.
type Operator struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// Service exchanges operator credentials for admin tokens.
type Service struct {
	operators map[string]Operator
	ids       map[string]string
	config    JWTConfig
}

func NewService(operators []Operator, config JWTConfig) *Service {
	s := &Service{
		operators: make(map[string]Operator, len(operators)),
		ids:       make(map[string]string, len(operators)),
		config:    config,
	}
	for _, op := range operators {
		if op.Role == "" {
			op.Role = RoleAdmin
		}
		s.operators[op.Username] = op
		s.ids[op.Username] = uuid.NewSHA1(uuid.NameSpaceOID, []byte("silo-config/"+op.Username)).String()
	}
	return s
}

func (s *Service) Login(_ context.Context, username, password string) (string, error) {
	op, ok := s.operators[username]
	if !ok || !secrets.Matches(password, op.PasswordHash) {
		slog.Warn("Failed operator login", "username", username)
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, s.ids[username], op.Username, op.Role)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	slog.Info("Operator logged in", "username", username, "role", op.Role)
	return token, nil
}

func (s *Service) Secret() string {
	return s.config.Secret
}
