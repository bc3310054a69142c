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

// Package credentials loads and validates the credentials.json file that
// describes the account pairs to migrate.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Security selects how the connection to the server is established and
// authenticated.
type Security string

const (
	SecurityPlain    Security = "PLAIN"
	SecuritySTARTTLS Security = "STARTTLS"
	SecuritySSL      Security = "SSL"
	SecurityOAuth2   Security = "OAUTH2"
)

// ErrNoFile is returned by Load when the credentials file does not exist.
// The CLI turns it into guidance pointing at credentials.json.default.
var ErrNoFile = errors.New("credentials: file not found")

// Credential describes one account on one server.
type Credential struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	Security Security `json:"security"`
}

// Address returns the host:port endpoint to dial.
func (c *Credential) Address() string {
	return c.Server + ":" + strconv.Itoa(c.Port)
}

// Pair is one source account and the destination account its messages
// are copied into.
type Pair struct {
	Src Credential `json:"src"`
	Dst Credential `json:"dst"`
}

// Load reads the account pairs from path, in file order. Ports are
// defaulted from the security mode (143 for PLAIN/STARTTLS, 993 for
// SSL/OAUTH2) and every credential is validated before any network I/O
// happens.
func Load(path string) ([]Pair, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("credentials: %s: %w", path, ErrNoFile)
		}
		return nil, fmt.Errorf("credentials: %w", err)
	}

	var pairs []Pair
	if err := json.Unmarshal(blob, &pairs); err != nil {
		return nil, fmt.Errorf("credentials: %s: %w", path, err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("credentials: %s: no account pairs defined", path)
	}

	for i := range pairs {
		if err := normalize(&pairs[i].Src); err != nil {
			return nil, fmt.Errorf("credentials: pair %d: source: %w", i+1, err)
		}
		if err := normalize(&pairs[i].Dst); err != nil {
			return nil, fmt.Errorf("credentials: pair %d: destination: %w", i+1, err)
		}
	}
	return pairs, nil
}

func normalize(c *Credential) error {
	c.Security = Security(strings.ToUpper(string(c.Security)))

	switch c.Security {
	case SecurityPlain, SecuritySTARTTLS:
		if c.Port == 0 {
			c.Port = 143
		}
	case SecuritySSL, SecurityOAuth2:
		if c.Port == 0 {
			c.Port = 993
		}
	case "":
		return errors.New("security mode is required")
	default:
		return fmt.Errorf("unknown security mode: %s", c.Security)
	}

	if c.Email == "" {
		return errors.New("email is required")
	}
	if c.Server == "" {
		return errors.New("server is required")
	}
	if c.Password == "" && c.Security != SecurityOAuth2 {
		return errors.New("password is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}
