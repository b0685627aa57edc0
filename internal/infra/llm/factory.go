package llm

import (
	"context"
	"fmt"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/crypto"
	"github.com/repohawk/scanner/pkg/domain/credential"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// Factory builds providers from per-user stored API keys. Triage runs on
// the scan owner's key, never a shared platform key.
type Factory struct {
	cfg    *config.TriageConfig
	creds  credential.Repository
	enc    crypto.Encryptor
	logger *logger.Logger
}

// NewFactory creates a provider factory.
func NewFactory(cfg *config.TriageConfig, creds credential.Repository, enc crypto.Encryptor, log *logger.Logger) *Factory {
	return &Factory{cfg: cfg, creds: creds, enc: enc, logger: log}
}

// ForUser resolves the user's stored key and builds the configured
// provider. No usable key means ErrProviderNotConfigured, which callers
// treat as "skip triage, use fallback mapping".
func (f *Factory) ForUser(ctx context.Context, userID shared.ID) (Provider, error) {
	if !f.cfg.Enabled {
		return nil, ErrProviderNotConfigured
	}

	providerType := ProviderType(f.cfg.Provider)
	if !providerType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, f.cfg.Provider)
	}

	cred, err := f.creds.GetByUserAndKind(ctx, userID, credential.KindLLMAPIKey, f.cfg.Provider)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, ErrProviderNotConfigured
		}
		return nil, fmt.Errorf("failed to load model API key: %w", err)
	}

	apiKey, err := crypto.Open(f.enc, cred.Secret)
	if err != nil {
		f.logger.Warn("stored model API key could not be decrypted", "user_id", userID)
		return nil, ErrProviderNotConfigured
	}

	switch providerType {
	case ProviderTypeClaude:
		return NewClaudeProvider(ClaudeConfig{
			APIKey:  apiKey,
			Model:   f.cfg.Model,
			Timeout: f.cfg.RequestTimeout,
		})
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  apiKey,
			Model:   f.cfg.Model,
			Timeout: f.cfg.RequestTimeout,
		})
	default:
		return nil, ErrInvalidProvider
	}
}
