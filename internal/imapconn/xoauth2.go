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

package imapconn

import (
	"errors"

	"github.com/emersion/go-sasl"
)

// XOAUTH2 SASL client as implemented by Gmail and Outlook. The initial
// response carries the username and the bearer token:
//
//	user=<email>\x01auth=Bearer <token>\x01\x01
//
// On failure the server sends a challenge with a JSON error description;
// the client must answer with an empty response so the server finishes
// the exchange with a tagged NO.
type xoauth2Client struct {
	username string
	token    string
	done     bool
}

// NewXOAUTH2Client returns a sasl.Client implementing the XOAUTH2
// mechanism with the given bearer token.
func NewXOAUTH2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if c.done {
		return nil, errors.New("xoauth2: unexpected server challenge")
	}
	c.done = true
	return []byte{}, nil
}
