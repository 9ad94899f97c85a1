package clients

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// AuthType selects how requests are authenticated.
type AuthType string

const (
	AuthNone              AuthType = ""
	AuthBearer            AuthType = "bearer"
	AuthBasic             AuthType = "basic"
	AuthAPIKey            AuthType = "api_key"
	AuthClientCredentials AuthType = "oauth2_client_credentials"
)

// AuthConfig describes request authentication.
type AuthConfig struct {
	Type AuthType `mapstructure:"type" yaml:"type,omitempty"`

	// bearer
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// basic
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// api_key: sent in Header, or as query parameter QueryParam when set
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Header     string `mapstructure:"header" yaml:"header,omitempty"`
	QueryParam string `mapstructure:"query_param" yaml:"query_param,omitempty"`

	// oauth2_client_credentials
	ClientID       string            `mapstructure:"client_id" yaml:"client_id,omitempty"`
	ClientSecret   string            `mapstructure:"client_secret" yaml:"client_secret,omitempty"`
	TokenURL       string            `mapstructure:"token_url" yaml:"token_url,omitempty"`
	Scopes         []string          `mapstructure:"scopes" yaml:"scopes,omitempty"`
	EndpointParams map[string]string `mapstructure:"endpoint_params" yaml:"endpoint_params,omitempty"`
}

// Validate checks that the fields required by Type are present.
func (a AuthConfig) Validate() error {
	missing := func(field string) error {
		return errors.New(errors.ErrorTypeConfig, "auth: "+field+" is required").
			WithDetail("type", string(a.Type))
	}
	switch a.Type {
	case AuthNone:
	case AuthBearer:
		if a.Token == "" {
			return missing("token")
		}
	case AuthBasic:
		if a.Username == "" {
			return missing("username")
		}
	case AuthAPIKey:
		if a.APIKey == "" {
			return missing("api_key")
		}
	case AuthClientCredentials:
		if a.ClientID == "" {
			return missing("client_id")
		}
		if a.TokenURL == "" {
			return missing("token_url")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "auth: unsupported type %q", a.Type)
	}
	return nil
}

// roundTripper layers authentication over base's transport. Token requests
// for client credentials also go through base.
func (a AuthConfig) roundTripper(base *http.Client) (http.RoundTripper, error) {
	next := base.Transport
	switch a.Type {
	case AuthNone:
		return next, nil
	case AuthClientCredentials:
		cc := &clientcredentials.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			TokenURL:     a.TokenURL,
			Scopes:       a.Scopes,
		}
		if len(a.EndpointParams) > 0 {
			cc.EndpointParams = make(map[string][]string, len(a.EndpointParams))
			for k, v := range a.EndpointParams {
				cc.EndpointParams[k] = []string{v}
			}
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		return &oauth2.Transport{Source: cc.TokenSource(ctx), Base: next}, nil
	default:
		return &staticAuth{cfg: a, next: next}, nil
	}
}

// staticAuth applies credentials that never change.
type staticAuth struct {
	cfg  AuthConfig
	next http.RoundTripper
}

func (s *staticAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	switch s.cfg.Type {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	case AuthBasic:
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	case AuthAPIKey:
		if s.cfg.QueryParam != "" {
			q := req.URL.Query()
			q.Set(s.cfg.QueryParam, s.cfg.APIKey)
			req.URL.RawQuery = q.Encode()
		} else {
			header := s.cfg.Header
			if header == "" {
				header = "X-API-Key"
			}
			req.Header.Set(header, s.cfg.APIKey)
		}
	}
	return s.next.RoundTrip(req)
}
