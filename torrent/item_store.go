package torrent

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"

	"github.com/anacrolix/dht/v2/bep44"
	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog/log"

	dlog "github.com/jkaberg/torrentxiv/log"
)

var _ bep44.Store = &FileItemStore{}

// FileItemStore keeps BEP 44 DHT items in badger so they survive restarts.
// Items expire after the configured TTL.
type FileItemStore struct {
	ttl time.Duration
	db  *badger.DB
}

func NewFileItemStore(path string, itemsTTL time.Duration) (*FileItemStore, error) {
	l := log.Logger.With().Str("component", "item-store").Logger()

	opts := badger.DefaultOptions(path).
		WithLogger(&dlog.Badger{L: l}).
		WithValueLogFileSize(1<<26 - 1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	err = db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return nil, err
	}

	return &FileItemStore{
		db:  db,
		ttl: itemsTTL,
	}, nil
}

func (fis *FileItemStore) Put(i *bep44.Item) error {
	var value bytes.Buffer
	if err := gob.NewEncoder(&value).Encode(i); err != nil {
		return err
	}

	key := i.Target()
	return fis.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key[:], value.Bytes()).WithTTL(fis.ttl)
		return txn.SetEntry(e)
	})
}

func (fis *FileItemStore) Get(t bep44.Target) (*bep44.Item, error) {
	var i *bep44.Item
	err := fis.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t[:])
		if errors.Is(err, badger.ErrKeyNotFound) {
			return bep44.ErrItemNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(func(v []byte) error {
			return gob.NewDecoder(bytes.NewReader(v)).Decode(&i)
		})
	})
	if err != nil {
		return nil, err
	}

	return i, nil
}

func (fis *FileItemStore) Del(t bep44.Target) error {
	return fis.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(t[:])
	})
}

func (fis *FileItemStore) Close() error {
	return fis.db.Close()
}
