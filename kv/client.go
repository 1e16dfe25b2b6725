// ABOUTME: Badger key/value engine backing the on-device store
// ABOUTME: Opens on disk for durable offline data, or in memory when disk storage is unusable
package kv

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// ErrConflict is returned when a read-write transaction lost a race with another writer.
var ErrConflict = errors.New("transaction conflict")

// Options configures how the engine is opened.
type Options struct {
	// Dir is the on-disk directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in RAM; nothing survives Close.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// Client wraps a Badger database with the small surface the store needs.
type Client struct {
	db       *badger.DB
	inMemory bool
	mu       sync.RWMutex
	closed   bool
}

// Open opens the engine described by opts.
func Open(opts Options) (*Client, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("kv directory is required")
		}
		if err := os.MkdirAll(opts.Dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create kv directory: %w", err)
		}
		bopts = badger.DefaultOptions(opts.Dir).WithSyncWrites(opts.SyncWrites)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv: %w", err)
	}

	return &Client{db: db, inMemory: opts.InMemory}, nil
}

// OpenInMemory opens a RAM-only engine.
func OpenInMemory() (*Client, error) {
	return Open(Options{InMemory: true})
}

// InMemory reports whether data is lost on Close.
func (c *Client) InMemory() bool {
	return c.inMemory
}

// Close flushes and closes the engine. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// Get retrieves a value by key.
func (c *Client) Get(key []byte) ([]byte, error) {
	var value []byte
	err := c.View(func(txn *Txn) error {
		v, err := txn.Get(key)
		value = v
		return err
	})
	return value, err
}

// Set stores a value.
func (c *Client) Set(key, value []byte) error {
	return c.Update(func(txn *Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key. Deleting a missing key is not an error.
func (c *Client) Delete(key []byte) error {
	return c.Update(func(txn *Txn) error {
		return txn.Delete(key)
	})
}

// KeysWithPrefix returns all keys starting with prefix, in ascending order.
func (c *Client) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := c.View(func(txn *Txn) error {
		var err error
		keys, err = txn.Keys(prefix)
		return err
	})
	return keys, err
}

// View runs fn in a read-only snapshot.
func (c *Client) View(fn func(txn *Txn) error) error {
	return c.db.View(func(btxn *badger.Txn) error {
		return fn(&Txn{txn: btxn})
	})
}

// Update runs fn in a read-write transaction committed atomically.
func (c *Client) Update(fn func(txn *Txn) error) error {
	err := c.db.Update(func(btxn *badger.Txn) error {
		return fn(&Txn{txn: btxn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

// Batch writes many keys without the size limit of a single transaction.
// Writes are not atomic as a whole; callers needing atomic visibility must
// publish the result through a separate Update.
func (c *Client) Batch(fn func(b *Batch) error) error {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	if err := fn(&Batch{wb: wb}); err != nil {
		return err
	}
	return wb.Flush()
}

// Reset wipes all data (use with caution!)
func (c *Client) Reset() error {
	return c.db.DropAll()
}

// Txn is a transaction handle passed to View and Update.
type Txn struct {
	txn *badger.Txn
}

// Get returns a copy of the value stored at key.
func (t *Txn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Set stores a value inside the transaction.
func (t *Txn) Set(key, value []byte) error {
	return t.txn.Set(key, value)
}

// Delete removes a key inside the transaction.
func (t *Txn) Delete(key []byte) error {
	return t.txn.Delete(key)
}

// Scan calls fn for every key with prefix, in ascending key order.
// Key and value slices are copies and may be retained.
func (t *Txn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns all keys with prefix without loading values.
func (t *Txn) Keys(prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// Batch is a write-only handle used by Client.Batch.
type Batch struct {
	wb *badger.WriteBatch
}

func (b *Batch) Set(key, value []byte) error {
	return b.wb.Set(bytes.Clone(key), bytes.Clone(value))
}

func (b *Batch) Delete(key []byte) error {
	return b.wb.Delete(bytes.Clone(key))
}
