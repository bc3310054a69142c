/*
imapmove - server-to-server IMAP mailbox migration tool.
Copyright © 2023 imapmove contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package oauth2flow acquires and caches XOAUTH2 bearer tokens for
// OAUTH2 credentials, using the Google installed-application flow.
package oauth2flow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"github.com/foxcpp/imapmove/framework/log"
	"github.com/foxcpp/imapmove/internal/i18n"
)

// MailScope grants full mailbox access, which IMAP XOAUTH2 requires.
const MailScope = "https://mail.google.com/"

// oobRedirect is the out-of-band flow: the browser shows the
// authorization code for the user to paste back.
const oobRedirect = "urn:ietf:wg:oauth:2.0:oob"

// Provider loads the OAuth2 client secret, keeps per-email token caches
// in token_<sanitized-email>.json files and refreshes tokens
// read-through on every use.
type Provider struct {
	// Path to the Google installed-app client_secret.json.
	ClientSecretPath string
	// Directory holding the token cache files. Empty means the current
	// directory.
	CacheDir string

	Strings *i18n.Catalog
	Log     log.Logger
}

// clientSecret is the installed-application section of a Google
// client_secret.json.
type clientSecret struct {
	Installed struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		AuthURI      string   `json:"auth_uri"`
		TokenURI     string   `json:"token_uri"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
}

func (p *Provider) config() (*oauth2.Config, error) {
	blob, err := os.ReadFile(p.ClientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("oauth2flow: %w", err)
	}
	var secret clientSecret
	if err := json.Unmarshal(blob, &secret); err != nil {
		return nil, fmt.Errorf("oauth2flow: %s: %w", p.ClientSecretPath, err)
	}
	if secret.Installed.ClientID == "" {
		return nil, fmt.Errorf("oauth2flow: %s: not an installed-application client secret", p.ClientSecretPath)
	}

	redirect := oobRedirect
	if len(secret.Installed.RedirectURIs) > 0 {
		redirect = secret.Installed.RedirectURIs[0]
	}
	return &oauth2.Config{
		ClientID:     secret.Installed.ClientID,
		ClientSecret: secret.Installed.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  secret.Installed.AuthURI,
			TokenURL: secret.Installed.TokenURI,
		},
		RedirectURL: redirect,
		Scopes:      []string{MailScope},
	}, nil
}

// sanitizeEmail turns an email address into a filename-safe token.
func sanitizeEmail(email string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, email)
}

// TokenPath returns the cache file path for the email.
func (p *Provider) TokenPath(email string) string {
	return filepath.Join(p.CacheDir, "token_"+sanitizeEmail(email)+".json")
}

// Token returns a live bearer token for the email, refreshing the
// cached one when it expired. The refreshed token is written back to
// the cache.
func (p *Provider) Token(email string) (string, error) {
	cfg, err := p.config()
	if err != nil {
		return "", err
	}

	cached, err := p.readCache(email)
	if err != nil {
		return "", fmt.Errorf("oauth2flow: no token for %s (run with --gen-tokens first): %w", email, err)
	}

	fresh, err := cfg.TokenSource(context.Background(), cached).Token()
	if err != nil {
		return "", fmt.Errorf("oauth2flow: refresh for %s: %w", email, err)
	}
	if fresh.AccessToken != cached.AccessToken {
		if err := p.writeCache(email, fresh); err != nil {
			p.Log.Error("cannot update token cache", err, "email", email)
		}
	}
	return fresh.AccessToken, nil
}

// Invalidate drops the cached token so the next run re-authorizes.
func (p *Provider) Invalidate(email string) error {
	err := os.Remove(p.TokenPath(email))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Generate runs the out-of-band authorization flow for every email,
// printing the consent URL to out and reading the pasted code from in.
// Existing caches are overwritten.
func (p *Provider) Generate(ctx context.Context, emails []string, in io.Reader, out io.Writer) error {
	cfg, err := p.config()
	if err != nil {
		return err
	}

	p.Log.Println(p.Strings.Tr("tokens.start"))
	reader := bufio.NewReader(in)
	for _, email := range emails {
		fmt.Fprintln(out, p.Strings.Tr("tokens.url", email))
		fmt.Fprintln(out, cfg.AuthCodeURL("state-"+sanitizeEmail(email),
			oauth2.AccessTypeOffline, oauth2.ApprovalForce))
		fmt.Fprint(out, p.Strings.Tr("tokens.code"))

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("oauth2flow: reading authorization code: %w", err)
		}
		code := strings.TrimSpace(line)

		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("oauth2flow: exchange for %s: %w", email, err)
		}
		if err := p.writeCache(email, token); err != nil {
			return err
		}
		p.Log.Println(p.Strings.Tr("tokens.saved", email, p.TokenPath(email)))
	}
	return nil
}

func (p *Provider) readCache(email string) (*oauth2.Token, error) {
	blob, err := os.ReadFile(p.TokenPath(email))
	if err != nil {
		return nil, err
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal(blob, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (p *Provider) writeCache(email string, token *oauth2.Token) error {
	blob, err := json.Marshal(token)
	if err != nil {
		return err
	}
	// Tokens grant full mailbox access, keep the file private.
	return os.WriteFile(p.TokenPath(email), blob, 0o600)
}
