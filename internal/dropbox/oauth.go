package dropbox

import (
	"golang.org/x/oauth2"
)

// Default Dropbox OAuth2 endpoints.
const (
	DefaultAuthURL  = "https://www.dropbox.com/oauth2/authorize"
	DefaultTokenURL = "https://api.dropboxapi.com/oauth2/token"
)

// OAuthConfig builds the oauth2.Config for a Dropbox app. Empty URLs fall
// back to the Dropbox defaults; tests point tokenURL at a local server.
func OAuthConfig(appKey, appSecret, redirectURL, authURL, tokenURL string) *oauth2.Config {
	if authURL == "" {
		authURL = DefaultAuthURL
	}

	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return &oauth2.Config{
		ClientID:     appKey,
		ClientSecret: appSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL returns the authorize URL requesting an offline (refreshable)
// token, which Dropbox expresses as token_access_type=offline.
func AuthCodeURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("token_access_type", "offline"))
}
