package idpfactory

import (
	"fmt"

	"github.com/faithconnect/member-service/idp"
	"github.com/faithconnect/member-service/idp/asgardeo"
)

type FactoryConfig struct {
	ProviderType idp.ProviderType
	BaseURL      string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewIdpAPIProvider builds the identity provider client for the configured type
func NewIdpAPIProvider(cfg FactoryConfig) (idp.IdentityProviderAPI, error) {
	switch cfg.ProviderType {
	case idp.ProviderAsgardeo:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("asgardeo base URL is required")
		}
		return asgardeo.NewClient(cfg.BaseURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.ProviderType)
	}
}
