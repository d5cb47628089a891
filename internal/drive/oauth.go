package drive

import (
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// OAuth2 application registration. The redirect URI is the provider's
// out-of-band page; the daemon has no listening browser flow.
const (
	oauthClientID    = "000000004010C916"
	oauthAuthURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	oauthTokenURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	oauthRedirectURI = "https://login.microsoftonline.com/common/oauth2/nativeclient"
)

// NewOAuthConfig returns the oauth2 configuration for the daemon's
// application registration.
func NewOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    oauthClientID,
		RedirectURL: oauthRedirectURI,
		Scopes:      []string{"Files.ReadWrite.All", "User.Read", "offline_access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  oauthAuthURL,
			TokenURL: oauthTokenURL,
		},
	}
}

// SaveToken persists an oauth2 token to path with owner-only permissions.
// Used by the authorization flow; the running daemon persists refreshed
// tokens itself.
func SaveToken(path string, tok *oauth2.Token) error {
	return saveTokenFile(path, tok)
}
