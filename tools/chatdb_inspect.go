package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"

	"webchat/repositories"
)

// Read-only dump of the chat database for debugging. Scans a key prefix
// ("msg:" for history, "user:" for accounts) and renders one row per entry.
func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg: or user:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Author", "Time", "Detail"})
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

			err := item.Value(func(v []byte) error {
				table.Append(toRow(key, v))
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

func toRow(key string, val []byte) []string {
	switch {
	case strings.HasPrefix(key, "msg:"):
		var dm repositories.DiskMessage
		if err := json.Unmarshal(val, &dm); err != nil {
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return []string{key, "RAW", "", "", "Size: " + strconv.Itoa(len(val)) + " bytes"}
		}
		detail := dm.Content
		if len(detail) > 60 {
			detail = detail[:60] + "..."
		}
		return []string{key, strings.ToUpper(string(dm.Kind)), dm.Author, dm.At.Format("15:04:05"), detail}

	case strings.HasPrefix(key, "user:"):
		var u repositories.User
		if err := json.Unmarshal(val, &u); err != nil {
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return []string{key, "RAW", "", "", "Size: " + strconv.Itoa(len(val)) + " bytes"}
		}
		return []string{key, "USER", u.Name, u.CreatedAt.Format("2006-01-02 15:04:05"), "argon2id hash stored"}

	default:
		return []string{key, "RAW", "", "", "Size: " + strconv.Itoa(len(val)) + " bytes"}
	}
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	return badger.Open(opts)
}
