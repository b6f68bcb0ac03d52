package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
)

// keyPrefix follows the original redis layout: chat:history:<session>.
const keyPrefix = "chat:history:"

// BadgerStore is the embedded durable tier. Keys carry an 8-byte
// big-endian sequence suffix so lexicographic iteration yields
// insertion order.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a persistent store at path, creating it as needed.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens a throwaway in-memory store for tests and
// dev runs without a data directory.
func OpenBadgerInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close flushes and closes the underlying database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Append writes one message under its session/sequence key.
func (b *BadgerStore) Append(ctx context.Context, seq uint64, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.SessionID, seq), value)
	})
}

// Load reads the full session history in sequence order.
func (b *BadgerStore) Load(ctx context.Context, sessionID string) ([]chat.Message, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	var (
		messages []chat.Message
		maxSeq   uint64
	)
	prefix := sessionPrefix(sessionID)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			seq := binary.BigEndian.Uint64(key[len(key)-8:])
			if seq > maxSeq {
				maxSeq = seq
			}

			if err := item.Value(func(val []byte) error {
				var msg chat.Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return fmt.Errorf("decode message at seq %d: %w", seq, err)
				}
				messages = append(messages, msg)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return messages, maxSeq, nil
}

// Clear deletes every key of the session.
func (b *BadgerStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := sessionPrefix(sessionID)
	var keys [][]byte

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan session %s: %w", sessionID, err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
	}
	return wb.Flush()
}

func sessionPrefix(sessionID string) []byte {
	return []byte(keyPrefix + sessionID + "/")
}

func messageKey(sessionID string, seq uint64) []byte {
	key := sessionPrefix(sessionID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

var _ Durable = (*BadgerStore)(nil)
