package config

import (
	"fmt"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

// Credentials holds the resolved secret material for the provider client.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func MakeCredentials(conf Provider) (Credentials, error) {
	clientID, err := commoncfg.LoadValueFromSourceRef(conf.ClientID)
	if err != nil {
		return Credentials{}, fmt.Errorf("loading provider client id: %w", err)
	}

	creds := Credentials{ClientID: string(clientID)}

	// The client secret is optional, public clients authenticate with
	// PKCE alone.
	if conf.ClientSecret.Source != "" {
		clientSecret, err := commoncfg.LoadValueFromSourceRef(conf.ClientSecret)
		if err != nil {
			return Credentials{}, fmt.Errorf("loading provider client secret: %w", err)
		}

		creds.ClientSecret = string(clientSecret)
	}

	return creds, nil
}

func MakeAPIKey(conf Relay) (string, error) {
	apiKey, err := commoncfg.LoadValueFromSourceRef(conf.APIKey)
	if err != nil {
		return "", fmt.Errorf("loading relay api key: %w", err)
	}

	return string(apiKey), nil
}
