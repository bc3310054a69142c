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

package migrate

import (
	"context"
	"errors"

	"github.com/foxcpp/imapmove/internal/namespace"
)

// errSkipFolder abandons the current folder and moves to the next one.
var errSkipFolder = errors.New("migrate: folder skipped")

// migrateFolders walks the source folders in server order, skipping
// virtual and unselectable ones, and replicates the messages of each.
// Within a folder messages are visited in ascending sequence order; no
// date sorting is attempted.
func (e *Engine) migrateFolders(ctx context.Context, sess *sessions, sup *supervisor, resolver *namespace.Resolver) error {
	repl := &replicator{
		engine:   e,
		sess:     sess,
		sup:      sup,
		resolver: resolver,
	}

	for _, entry := range resolver.Src.Entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if namespace.Skip(entry) {
			e.Log.DebugMsg("folder skipped", "folder", entry.Name, "attributes", entry.Attributes)
			continue
		}

		e.Log.Println(e.Strings.Tr("folder.select", entry.Name))
		err := sup.do(ctx, func() error {
			_, err := sess.src.Select(entry.Name, true)
			return err
		})
		if err != nil {
			if isFatal(err) {
				return err
			}
			e.Log.Println(e.Strings.Tr("folder.select_failed", entry.Name))
			e.Log.Error("source select failed", err, "folder", entry.Name)
			continue
		}

		var seqs []uint32
		err = sup.do(ctx, func() error {
			var err error
			seqs, err = sess.src.SearchAll()
			return err
		})
		if err != nil {
			if isFatal(err) {
				return err
			}
			e.Log.Error("source search failed", err, "folder", entry.Name)
			continue
		}
		if len(seqs) == 0 {
			e.Log.Println(e.Strings.Tr("folder.empty", entry.Name))
			continue
		}

		dstFolder := resolver.Map(entry.Name)
		if err := repl.replicateFolder(ctx, entry.Name, dstFolder, seqs); err != nil {
			if errors.Is(err, errSkipFolder) {
				continue
			}
			return err
		}
	}
	return nil
}

// isFatal reports whether the error must terminate the pair rather than
// the current folder or message.
func isFatal(err error) bool {
	return errors.Is(err, ErrRetriesExhausted) ||
		errors.Is(err, errAuthLost) ||
		errors.Is(err, errOverquota) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
