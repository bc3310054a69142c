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

// Package i18n provides the localized user-facing strings.
//
// Lookup is two-layered: the selected language table first, the built-in
// English table as the fallback for keys a translation does not cover.
// Keys are stable identifiers, not English text, so translations survive
// wording changes.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// First entry is the fallback.
var supported = []language.Tag{
	language.English,
	language.BrazilianPortuguese,
}

// Catalog resolves string identifiers to localized text.
type Catalog struct {
	printer *message.Printer
	tag     language.Tag
}

// New builds a Catalog for the given BCP 47 code ("en", "pt-BR", ...).
// Unknown or empty codes fall back to English.
func New(code string) *Catalog {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for lang, table := range tables {
		for key, text := range table {
			// SetString only fails on malformed keys; ours are literals.
			_ = builder.SetString(lang, key, text)
		}
	}

	matcher := language.NewMatcher(supported)
	tag, _, _ := matcher.Match(language.Make(code))

	return &Catalog{
		printer: message.NewPrinter(tag, message.Catalog(builder)),
		tag:     tag,
	}
}

// Tr returns the localized string for key, formatting args printf-style.
// Unknown keys render as the key itself, which keeps logs usable even
// when a string was forgotten in the tables.
func (c *Catalog) Tr(key string, args ...interface{}) string {
	return c.printer.Sprintf(key, args...)
}

// Language returns the resolved language tag.
func (c *Catalog) Language() language.Tag {
	return c.tag
}
