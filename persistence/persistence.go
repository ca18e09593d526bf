// Package persistence composes the session and retained-message stores
// into one durable backend backed by a single Pebble database or Redis
// client, per the Connection/Session/Retained-Store designs' requirement
// that session state and retained messages survive a broker restart.
//
// It does not reimplement storage: session.PebbleStore/RedisStore and
// store.PebbleStore[T]/RedisStore[T] already do the CBOR-encoded
// get/set/iterate work. This package only wires them together behind one
// constructor per backend and adds payload compression above a size
// threshold, since the generic stores have no opinion on compression.
package persistence

import (
	"context"

	"github.com/byiringiro-aloys/mqtt-core-service/encoding"
	"github.com/byiringiro-aloys/mqtt-core-service/session"
	"github.com/byiringiro-aloys/mqtt-core-service/store"
	"github.com/byiringiro-aloys/mqtt-core-service/topic"
	"github.com/byiringiro-aloys/mqtt-core-service/types/message"
	"github.com/cockroachdb/pebble"
)

// Backend is the durable pair a PersistentStore wires together: session
// state and retained messages. Both halves are swappable independently of
// how the broker is started (Pebble for a single node, Redis for a
// cluster sharing state across brokers).
type Backend struct {
	Sessions       session.Store
	Retained       *store.RetainedStore
	retainedBackup RetainedBackup
	sharedDB       *pebble.DB
}

// retainedRecord is the on-disk shape of a retained message: the message
// itself plus whether Payload was zstd-compressed before storage. This is
// the type actually handed to the generic Store[T], not message.Message,
// since the generic stores CBOR-marshal T verbatim and have no compression
// hook of their own.
type retainedRecord struct {
	Topic      string `cbor:"topic"`
	PacketID   uint16 `cbor:"packet_id"`
	Payload    []byte `cbor:"payload"`
	QoS        byte   `cbor:"qos"`
	ClientID   string `cbor:"client_id"`
	Compressed bool   `cbor:"compressed"`
}

// RetainedBackup persists retained messages to a durable store so they can
// be replayed into an in-memory RetainedStore on startup. RetainedStore
// itself is a pure in-memory trie (see store/retained.go); this is the
// piece that gives it crash durability.
type RetainedBackup interface {
	Save(ctx context.Context, topic string, rec retainedRecord) error
	Delete(ctx context.Context, topic string) error
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, topic string) (retainedRecord, error)
	Close() error
}

// NewPebbleBackend opens one Pebble database and builds a session store
// and a retained-message backup store over it, each under its own key
// prefix, so both stores share a single on-disk database and file lock
// instead of each opening dbPath independently.
func NewPebbleBackend(dbPath string) (*Backend, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{ErrorIfExists: false})
	if err != nil {
		return nil, err
	}

	sessions := session.NewPebbleStoreFromDB(db)
	retainedBackup := store.NewPebbleStoreFromDB[retainedRecord](db, "retained:")

	b, err := newBackend(sessions, retainedBackup)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.sharedDB = db
	return b, nil
}

// NewRedisBackend builds a session store and a retained-message backup
// store over one Redis client configuration, for brokers sharing state
// across nodes.
func NewRedisBackend(cfg session.RedisStoreConfig, retainedCfg store.RedisStoreConfig) (*Backend, error) {
	sessions, err := session.NewRedisStore(cfg)
	if err != nil {
		return nil, err
	}

	if retainedCfg.Prefix == "" {
		retainedCfg.Prefix = "retained:"
	}
	retainedBackup, err := store.NewRedisStore[retainedRecord](retainedCfg)
	if err != nil {
		sessions.Close()
		return nil, err
	}

	return newBackend(sessions, retainedBackup)
}

func newBackend(sessions session.Store, retainedBackup RetainedBackup) (*Backend, error) {
	b := &Backend{
		Sessions:       sessions,
		Retained:       store.NewRetainedStore(),
		retainedBackup: retainedBackup,
	}
	return b, nil
}

// RestoreRetained replays every retained message from the durable backup
// store into the in-memory RetainedStore. Call once at startup before the
// broker begins accepting connections.
func (b *Backend) RestoreRetained(ctx context.Context) (int, error) {
	topics, err := b.retainedBackup.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, t := range topics {
		rec, err := b.retainedBackup.Load(ctx, t)
		if err != nil {
			continue
		}
		payload, err := decompressPayload(rec.Payload, rec.Compressed)
		if err != nil {
			continue
		}
		msg := message.NewMessage(rec.PacketID, t, payload, encoding.QoS(rec.QoS), true, rec.ClientID)
		if err := b.Retained.Set(ctx, t, msg); err != nil {
			continue
		}
		restored++
	}
	return restored, nil
}

// SetRetained updates both the in-memory RetainedStore (consulted on every
// SUBSCRIBE) and the durable backup (consulted only on restart), matching
// store.RetainedStore.Set's empty-payload-deletes-the-entry convention.
func (b *Backend) SetRetained(ctx context.Context, t string, msg *message.Message) error {
	if err := b.Retained.Set(ctx, t, msg); err != nil {
		return err
	}
	if len(msg.Payload) == 0 {
		return b.retainedBackup.Delete(ctx, t)
	}

	payload, compressed := compressPayload(msg.Payload)
	return b.retainedBackup.Save(ctx, t, retainedRecord{
		Topic:      t,
		PacketID:   msg.PacketID,
		Payload:    payload,
		QoS:        byte(msg.QoS),
		ClientID:   msg.ClientID,
		Compressed: compressed,
	})
}

// MatchRetained matches a subscription filter against the in-memory
// RetainedStore, mirroring topic.RetainedManager.Match.
func (b *Backend) MatchRetained(ctx context.Context, filter string) ([]*message.Message, error) {
	return b.Retained.Match(ctx, filter, topic.NewTopicMatcher())
}

// Close closes both halves of the backend and, for a Pebble-backed
// backend, the shared database underneath them.
func (b *Backend) Close() error {
	b.Retained.Close()
	_ = b.retainedBackup.Close()
	err := b.Sessions.Close()
	if b.sharedDB != nil {
		if closeErr := b.sharedDB.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
