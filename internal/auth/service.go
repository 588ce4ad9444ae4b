package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"IntentForge/pkg/logger"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject Subject
}

// Service 负责 API 请求的身份验证和授权。
type Service struct {
	mode   Mode
	tokens []tokenEntry
	audit  *slog.Logger
}

// NewService 根据配置构造认证服务。disabled 模式下所有请求直接放行。
func NewService(cfg Config) (*Service, error) {
	s := &Service{mode: cfg.Mode, audit: logger.Audit()}
	if s.mode == "" {
		s.mode = ModeDisabled
	}
	switch s.mode {
	case ModeDisabled:
		return s, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}

	if len(cfg.Tokens) == 0 {
		return nil, errors.New("token 模式至少需要配置一个令牌")
	}
	seen := make(map[[sha256.Size]byte]string, len(cfg.Tokens))
	for i, token := range cfg.Tokens {
		secret := strings.TrimSpace(token.Secret)
		name := strings.TrimSpace(token.Name)
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		if secret == "" {
			return nil, fmt.Errorf("令牌 %s 缺少密钥", name)
		}
		digest := sha256.Sum256([]byte(secret))
		if other, dup := seen[digest]; dup {
			return nil, fmt.Errorf("令牌 %s 与 %s 的密钥重复", name, other)
		}
		seen[digest] = name
		s.tokens = append(s.tokens, tokenEntry{
			digest:  digest,
			subject: Subject{Name: name, Permissions: append([]string(nil), token.Permissions...)},
		})
	}
	return s, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 校验 Authorization 头中的 Bearer 令牌。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Name: "anonymous", Permissions: []string{"*"}}, nil
	}
	token := strings.TrimSpace(authorization)
	if token == "" {
		return nil, ErrMissingToken
	}
	scheme, value, ok := strings.Cut(token, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
		return nil, ErrInvalidToken
	}
	digest := sha256.Sum256([]byte(strings.TrimSpace(value)))

	var match *tokenEntry
	for i := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], s.tokens[i].digest[:]) == 1 {
			match = &s.tokens[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	subject := match.subject
	subject.Permissions = append([]string(nil), match.subject.Permissions...)
	subject.permissionsSet = nil
	return &subject, nil
}
