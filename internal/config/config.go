// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Relay       Relay       `yaml:"relay"`
	Provider    Provider    `yaml:"provider"`
	Housekeeper Housekeeper `yaml:"housekeeper"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8000"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// Relay configures the delegated authorization flow itself: the shared
// secret callers must present and the lifetimes of stored entries.
type Relay struct {
	APIKey commoncfg.SourceRef `yaml:"apiKey"`

	// PendingTTL bounds how long a started authorization may wait for its
	// callback before the housekeeper removes it.
	PendingTTL time.Duration `yaml:"pendingTTL" default:"10m"`

	// SessionTTL bounds how long an unclaimed token set is retained.
	SessionTTL time.Duration `yaml:"sessionTTL" default:"1h"`

	// DebugEndpoint exposes a read-only listing of stored entries.
	// It must stay disabled outside of local development.
	DebugEndpoint bool `yaml:"debugEndpoint" default:"false"`
}

// Provider configures the upstream OAuth2 authorization server. Endpoints
// are taken from IssuerURL via discovery when it is set, otherwise from the
// statically configured values.
type Provider struct {
	ClientID     commoncfg.SourceRef `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`

	RedirectURI string `yaml:"redirectURI"`

	AuthorizationEndpoint string `yaml:"authorizationEndpoint" default:"https://twitter.com/i/oauth2/authorize"`
	TokenEndpoint         string `yaml:"tokenEndpoint" default:"https://api.twitter.com/2/oauth2/token"`
	IssuerURL             string `yaml:"issuerURL"`

	Scopes []string `yaml:"scopes"`

	RequestTimeout time.Duration `yaml:"requestTimeout" default:"10s"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"1m"`
}
