// Command inspect dumps the message keyspace of a chatsync database to the
// terminal. It opens Badger read-only so it can run next to a live server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"chatsync/repositories"
)

func main() {
	dbPath := flag.String("db", "/tmp/chatsync/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg:, pm:, room:, user:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	header := color.New(color.BgBlack, color.FgGreen).
		Render(fmt.Sprintf(" chatsync inspect  db=%s  prefix=%s ", *dbPath, *prefix))
	fmt.Println(header)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Time", "Sender", "Content", "Reactions", "Read By"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())

			// The id index only holds pointers to primary keys.
			if strings.HasPrefix(key, "msgid:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				if !strings.HasPrefix(key, "msg:") && !strings.HasPrefix(key, "pm:") {
					table.Append([]string{key, "RAW", "", "", fmt.Sprintf("%d bytes", len(v)), "", ""})
					return nil
				}

				msg, err := repositories.DecodeMessageRecord(v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", key, err)
					return nil
				}

				kind := "ROOM"
				if msg.IsPrivate {
					kind = "PRIVATE"
				}
				if msg.Content.IsDeleted {
					kind = "DELETED"
				} else if msg.Content.IsEdited {
					kind = "EDITED"
				}

				reactions := ""
				for emoji, users := range msg.Reactions {
					reactions += fmt.Sprintf("%s:%d ", emoji, len(users))
				}
				readers := make([]string, 0, len(msg.ReadBy))
				for _, r := range msg.ReadBy {
					readers = append(readers, r.DisplayName)
				}

				content := msg.Content.Current
				if len(content) > 60 {
					content = content[:57] + "..."
				}

				table.Append([]string{
					key,
					kind,
					msg.CreatedAt.Format("15:04:05"),
					msg.Sender.DisplayName,
					content,
					reactions,
					strings.Join(readers, ","),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
