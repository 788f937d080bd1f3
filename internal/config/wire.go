package config

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/DoyleJ11/impostor/internal/ai"
	"github.com/DoyleJ11/impostor/internal/topic"
	"github.com/DoyleJ11/impostor/internal/transport"
	"go.uber.org/zap"
)

// NewTransport connects to the configured broadcast service. mem is used for
// TransportMemory and may be nil otherwise.
func (c *Config) NewTransport(mem *transport.Memory, log *zap.Logger) (transport.Transport, error) {
	switch c.Transport {
	case TransportMemory:
		if mem == nil {
			mem = transport.NewMemory()
		}
		return mem.Connect(), nil
	case TransportRelay:
		return transport.NewRelay(c.RelayURL, log)
	case TransportNtfy:
		return transport.NewNtfy(c.NtfyURL, log)
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewTopics builds the configured provider behind a Fallback to the
// built-in bank, so it always resolves. The closer releases the catalog's
// database handle.
func (c *Config) NewTopics(ctx context.Context, r *rand.Rand, log *zap.Logger) (topic.Provider, io.Closer, error) {
	bank := topic.NewBank(r)

	var primary topic.Provider
	var closer io.Closer = nopCloser{}
	switch c.TopicSource {
	case TopicsBank:
		return bank, closer, nil
	case TopicsLLM:
		client, err := ai.New(ai.Config{
			Provider:      c.AIProvider,
			Model:         c.AIModel,
			OpenAIKey:     c.OpenAIKey,
			OpenAIBaseURL: c.OpenAIBaseURL,
			OllamaHost:    c.OllamaHost,
		})
		if err != nil {
			return nil, nil, err
		}
		primary = topic.Generator{Client: client, Model: c.AIModel}
	case TopicsCatalog:
		cat, err := topic.OpenCatalog(c.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := cat.Migrate(ctx); err != nil {
			_ = cat.Close()
			return nil, nil, fmt.Errorf("migrate topic catalog: %w", err)
		}
		if n, err := cat.Count(ctx); err == nil && n == 0 {
			added, err := cat.Seed(ctx, bank.Topics())
			if err != nil {
				log.Warn("seed topic catalog", zap.Error(err))
			} else {
				log.Info("seeded topic catalog", zap.Int64("topics", added))
			}
		}
		primary, closer = cat, cat
	default:
		return nil, nil, fmt.Errorf("unknown topic source %q", c.TopicSource)
	}

	return topic.Fallback{Primary: primary, Secondary: bank, Timeout: c.TopicTimeout, Log: log}, closer, nil
}
