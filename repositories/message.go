//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/blugelabs/bluge/search"
	"github.com/dgraph-io/badger/v4"

	"webchat/domain"
	"webchat/errors"
)

type IMessageRepository interface {
	StoreMessage(message DiskMessage) error
	Recent() ([]DiskMessage, error)
	Search(ctx context.Context, term string, limit int) ([]DiskMessage, error)
}

// DiskMessage is the repository-level representation of a persisted message.
type DiskMessage struct {
	Seq     uint64             `json:"seq"`
	Author  string             `json:"author"`
	Content string             `json:"content"`
	Kind    domain.MessageKind `json:"kind"`
	Time    string             `json:"time"`
	At      time.Time          `json:"at"`
}

type MessageRepository struct {
	db          *badger.DB
	index       *bluge.Writer
	log         *slog.Logger
	seq         *badger.Sequence
	replayLimit int
}

// NewMessageRepository opens the message sequence and wires the Bluge index.
// The sequence survives restarts, so seq values stay monotonic across the
// lifetime of the database, not just of the process.
func NewMessageRepository(db *badger.DB, index *bluge.Writer, log *slog.Logger, replayLimit int) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte("seq:msg"), 100)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStore, err)
	}
	return &MessageRepository{db: db, index: index, log: log, seq: seq, replayLimit: replayLimit}, nil
}

// Close releases the leased sequence range back to Badger.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

// StoreMessage appends a message to the history log.
// The key is formatted as "msg:{seq_padded}" using 19-digit zero padding so
// lexicographical key order equals persistence order, which the replay scan
// relies on. Text content is additionally indexed in Bluge for /search.
func (m *MessageRepository) StoreMessage(message DiskMessage) error {
	seq, err := m.seq.Next()
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStore, err)
	}
	message.Seq = seq

	bytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	key := messageKey(seq)
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStore, err)
	}

	// Base64 image blobs carry no searchable text, only plain messages are indexed.
	if message.Kind == domain.KindText {
		doc := bluge.NewDocument(key).
			AddField(bluge.NewTextField("content", message.Content)).
			AddField(bluge.NewKeywordField("author", message.Author))
		if err := m.index.Update(doc.ID(), doc); err != nil {
			// Indexing is an auxiliary concern: the message is durably stored,
			// it just won't show up in /search results.
			m.log.Warn("failed to index message", "seq", seq, "error", err)
		}
	}
	return nil
}

// Recent returns the last replayLimit persisted messages, oldest first.
// Thanks to the padded sequence in the key a reverse prefix scan yields the
// most recent entries, which are then flipped back into persistence order.
func (m *MessageRepository) Recent() ([]DiskMessage, error) {
	var collected []DiskMessage

	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte("msg:")
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the highest possible key, then walk backwards.
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(collected) == m.replayLimit {
				break
			}
			var dm DiskMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &dm)
			})
			if err != nil {
				return err
			}
			collected = append(collected, dm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStore, err)
	}

	// Reverse scan collected newest-first; replay wants oldest-first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// Search runs a full-text match query over indexed message content and
// resolves the hits back to the durable records in Badger.
func (m *MessageRepository) Search(ctx context.Context, term string, limit int) ([]DiskMessage, error) {
	reader, err := m.index.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStore, err)
	}
	defer reader.Close()

	query := bluge.NewMatchQuery(term).SetField("content")
	request := bluge.NewTopNSearch(limit, query)

	iter, err := reader.Search(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStore, err)
	}

	keys, err := collectMatchKeys(iter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStore, err)
	}

	var results []DiskMessage
	err = m.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if err != nil {
				// Index can be ahead of or behind the log, skip dangling hits.
				continue
			}
			var dm DiskMessage
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &dm)
			}); err != nil {
				return err
			}
			results = append(results, dm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStore, err)
	}
	return results, nil
}

// matchIterator is the slice of bluge's DocumentMatchIterator the key
// collection needs.
type matchIterator interface {
	Next() (*search.DocumentMatch, error)
}

// collectMatchKeys drains the iterator into stored document ids. Next signals
// both exhaustion and failure through the same call, so the error must be
// checked on every step, a nil match with a non-nil error is not end-of-set.
func collectMatchKeys(iter matchIterator) ([]string, error) {
	var keys []string
	for {
		match, err := iter.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			return keys, nil
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				keys = append(keys, string(value))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
}

func messageKey(seq uint64) string {
	return fmt.Sprintf("msg:%019d", seq)
}
