package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgraph-io/badger/v4"

	"webchat/observability"
	"webchat/repositories"
)

// InspectRow is one persisted message as shown by the debug endpoint.
type InspectRow struct {
	Key     string `json:"key"`
	Author  string `json:"author"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
	Time    string `json:"time"`
	Size    int    `json:"size"`
}

// StartDebugServer exposes runtime stats and a raw view of the message store
// on a side port. It is an operator tool, not part of the chat protocol, and
// failures here never touch the main server.
func StartDebugServer(log *slog.Logger, db *badger.DB, monitor *observability.Monitor, port int) {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(monitor.Snapshot())
	})

	mux.HandleFunc("/debug/messages", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}

		rows := make([]InspectRow, 0)
		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					rows = append(rows, mapRow(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	})

	go func() {
		addr := fmt.Sprintf("0.0.0.0:%d", port)
		log.Info("debug server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("debug server stopped", "error", err)
		}
	}()
}

func mapRow(key string, val []byte) InspectRow {
	row := InspectRow{Key: key, Kind: "RAW", Size: len(val)}

	var dm repositories.DiskMessage
	if err := json.Unmarshal(val, &dm); err == nil && dm.Author != "" {
		row.Author = dm.Author
		row.Content = dm.Content
		row.Kind = string(dm.Kind)
		row.Time = dm.Time
	}
	return row
}
