package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service resolves bearer tokens to subjects.
type Service struct {
	mode   Mode
	tokens []tokenEntry
}

// NewService validates cfg and builds the token table.
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	s := &Service{mode: mode}
	switch mode {
	case ModeDisabled:
		return s, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", mode)
	}

	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		name := strings.TrimSpace(tc.Name)
		if name == "" || tc.Token == "" {
			return nil, errors.New("token 配置缺少 name 或 token")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("重复的 token 名称: %s", name)
		}
		seen[name] = struct{}{}
		subject := &Subject{Name: name, Permissions: append([]string(nil), tc.Permissions...), Disabled: tc.Disabled}
		subject.normalise()
		s.tokens = append(s.tokens, tokenEntry{digest: sha256.Sum256([]byte(tc.Token)), subject: subject})
	}
	if len(s.tokens) == 0 {
		return nil, errors.New("token 模式至少需要配置一个 token")
	}
	return s, nil
}

// Mode returns the configured mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest resolves an Authorization header value.
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var match *Subject
	for _, entry := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			match = entry.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	if match.Disabled {
		return nil, ErrSubjectRevoked
	}
	return match, nil
}
