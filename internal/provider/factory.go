package provider

import (
	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
)

// New builds a client for the provider family named by the catalog row. The
// switch is the closed set of supported families; adding a provider means a
// new adapter plus a new case here.
func New(record models.Provider, model models.Model) (Client, error) {
	switch record.Type {
	case models.ProviderTypeOpenAI:
		return newOpenAIClient(record, model), nil
	case models.ProviderTypeOpenRouter:
		return newOpenRouterClient(record, model), nil
	case models.ProviderTypeAnthropic:
		return newAnthropicClient(record, model), nil
	case models.ProviderTypeGemini:
		return newGeminiClient(record, model), nil
	default:
		return nil, apierr.Newf(apierr.KindUnsupportedProvider,
			"provider family %q is not supported", record.Type)
	}
}
