package imagegen

import (
	"github.com/smallbiznis/stitchery/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.imagegen",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Generator {
	if cfg.OpenAI.APIKey == "" {
		log.Named("providers.imagegen").Info("openai key not configured; using static placeholder images")
		return NewStatic()
	}
	return NewOpenAI(OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, nil)
}
