// Package internal holds operator-facing plumbing that is not part of the
// engine's public surface.
package internal

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

// InspectRow is one key/value pair rendered in the browser.
type InspectRow struct {
	Key       string
	Kind      string
	Timestamp string
	EntityID  string
	Scope     string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// StartDebugServer serves a read-only browser over the badger keyspace plus
// the latest engine snapshot. Debug only; never expose it publicly.
func StartDebugServer(db *badger.DB, port int, mapper RowMapper, statsProvider StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	if mapper == nil {
		mapper = DefaultMapper
	}

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}

		data := PageData{
			Prefix: prefix,
			Stats:  make(map[string]any),
		}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
	}()
}

// DefaultMapper understands the engine's key layout:
//
//	msg:{room}:{nano}:{uuid}   room message
//	pm:{a}:{b}:{nano}:{uuid}   private message
//	msgid:{uuid}               id index
//	room:{id}                  room record
//	user:{name}                guest identity
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Kind:      "RAW",
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Scope:     "-",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	if len(parts) < 2 {
		return row
	}

	switch parts[0] {
	case "msg":
		row.Kind = "MESSAGE"
		if len(parts) >= 4 {
			row.Scope = parts[1]
			row.Timestamp = nanoClock(parts[2])
			row.EntityID = shortID(parts[3])
		}
	case "pm":
		row.Kind = "PRIVATE"
		if len(parts) >= 5 {
			row.Scope = parts[1] + " / " + parts[2]
			row.Timestamp = nanoClock(parts[3])
			row.EntityID = shortID(parts[4])
		}
	case "msgid":
		row.Kind = "INDEX"
		row.EntityID = shortID(parts[1])
	case "room":
		row.Kind = "ROOM"
		row.Scope = parts[1]
	case "user":
		row.Kind = "IDENTITY"
		row.Scope = parts[1]
	}
	return row
}

func nanoClock(raw string) string {
	nano, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "--:--:--"
	}
	return time.Unix(0, nano).Format("15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
