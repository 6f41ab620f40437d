package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
	"voxlobby/internal/infrastructure/store"
)

const (
	keyPrefix     = "voxlobby:doc:"
	indexPrefix   = "voxlobby:index:"
	changeChannel = "voxlobby:changed"
)

// Store is the redis-backed DirectoryStore. Documents are hashes whose
// fields hold raw JSON values; a set per collection indexes the documents.
// Transact runs a WATCH/MULTI/EXEC compare-and-swap loop, which is the only
// mutation path safe against concurrent writers on the same field.
//
// Every successful write publishes the collection name on a change channel;
// subscribers re-read a full snapshot on each message, mirroring the
// snapshot-not-diff contract of the directory.
type Store struct {
	client  *redis.Client
	logger  *zap.SugaredLogger
	metrics ports.Metrics
}

func NewStore(client *redis.Client, logger *zap.SugaredLogger, metrics ports.Metrics) *Store {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Store{client: client, logger: logger, metrics: metrics}
}

var _ ports.DirectoryStore = (*Store)(nil)

func (s *Store) docKey(p store.Path) string {
	return keyPrefix + p.Collection + ":" + p.Doc
}

func (s *Store) indexKey(collection string) string {
	return indexPrefix + collection
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	p, err := store.Parse(path)
	if err != nil {
		return nil, false, err
	}

	switch p.Depth() {
	case 1:
		ids, err := s.client.SMembers(ctx, s.indexKey(p.Collection)).Result()
		if err != nil {
			return nil, false, storeErr(err)
		}
		out := make(map[string]json.RawMessage, len(ids))
		for _, id := range ids {
			fields, err := s.client.HGetAll(ctx, keyPrefix+p.Collection+":"+id).Result()
			if err != nil {
				return nil, false, storeErr(err)
			}
			if len(fields) == 0 {
				continue // removed between index read and fetch
			}
			out[id] = fieldsToJSON(fields)
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil

	case 2:
		fields, err := s.client.HGetAll(ctx, s.docKey(p)).Result()
		if err != nil {
			return nil, false, storeErr(err)
		}
		if len(fields) == 0 {
			return nil, false, nil
		}
		return fieldsToJSON(fields), true, nil

	default:
		raw, err := s.client.HGet(ctx, s.docKey(p), p.Field).Result()
		if err == redis.Nil {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, storeErr(err)
		}
		return json.RawMessage(raw), true, nil
	}
}

func fieldsToJSON(fields map[string]string) json.RawMessage {
	raw := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw[k] = json.RawMessage(v)
	}
	data, _ := json.Marshal(raw)
	return data
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	p, err := store.Parse(path)
	if err != nil {
		return err
	}
	if p.Depth() == 1 {
		return fmt.Errorf("%w: cannot set whole collection %q", domain.ErrPathInvalid, path)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if p.Depth() == 2 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("%w: document value must be an object", domain.ErrPathInvalid)
		}
		args := make(map[string]any, len(fields))
		for k, v := range fields {
			args[k] = string(v)
		}

		// Set is a full overwrite, so clear leftovers from any previous doc.
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.docKey(p))
			pipe.HSet(ctx, s.docKey(p), args)
			pipe.SAdd(ctx, s.indexKey(p.Collection), p.Doc)
			return nil
		})
	} else {
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.docKey(p), p.Field, string(data))
			pipe.SAdd(ctx, s.indexKey(p.Collection), p.Doc)
			return nil
		})
	}
	if err != nil {
		return storeErr(err)
	}

	s.publish(ctx, p.Collection)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	p, err := store.Parse(path)
	if err != nil {
		return err
	}
	if p.Depth() != 2 {
		return fmt.Errorf("%w: update requires a document path, got %q", domain.ErrPathInvalid, path)
	}

	args := make(map[string]any, len(fields))
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		args[k] = string(data)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docKey(p), args)
		pipe.SAdd(ctx, s.indexKey(p.Collection), p.Doc)
		return nil
	})
	if err != nil {
		return storeErr(err)
	}

	s.publish(ctx, p.Collection)
	return nil
}

func (s *Store) Transact(ctx context.Context, path string, fn func(old json.RawMessage) (any, error)) (json.RawMessage, error) {
	p, err := store.Parse(path)
	if err != nil {
		return nil, err
	}
	if p.Depth() != 3 {
		return nil, fmt.Errorf("%w: transact requires a field path, got %q", domain.ErrPathInvalid, path)
	}

	key := s.docKey(p)
	var committed json.RawMessage

	txf := func(tx *redis.Tx) error {
		var old json.RawMessage
		raw, err := tx.HGet(ctx, key, p.Field).Result()
		switch {
		case err == redis.Nil:
			old = nil
		case err != nil:
			return err
		default:
			old = json.RawMessage(raw)
		}

		next, err := fn(old)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, p.Field, string(data))
			pipe.SAdd(ctx, s.indexKey(p.Collection), p.Doc)
			return nil
		})
		if err != nil {
			return err
		}
		committed = data
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			// Another writer touched the key between WATCH and EXEC.
			s.metrics.RecordTransactRetry(path)
			s.logger.Debugw("transaction conflict, retrying", "path", path)
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		s.publish(ctx, p.Collection)
		return committed, nil
	}
}

func (s *Store) Delete(ctx context.Context, path string) error {
	p, err := store.Parse(path)
	if err != nil {
		return err
	}
	if p.Depth() == 1 {
		return fmt.Errorf("%w: cannot delete whole collection %q", domain.ErrPathInvalid, path)
	}

	if p.Depth() == 2 {
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.docKey(p))
			pipe.SRem(ctx, s.indexKey(p.Collection), p.Doc)
			return nil
		})
	} else {
		err = s.client.HDel(ctx, s.docKey(p), p.Field).Err()
	}
	if err != nil {
		return storeErr(err)
	}

	s.publish(ctx, p.Collection)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, path string, onChange func(json.RawMessage)) (ports.Unsubscribe, error) {
	p, err := store.Parse(path)
	if err != nil {
		return nil, err
	}

	snapshot, _, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(ctx, changeChannel)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload != p.Collection {
					continue
				}
				snap, found, err := s.Get(subCtx, path)
				if err != nil {
					// Leave the last delivered snapshot standing until the
					// next change arrives.
					s.logger.Warnw("failed to read snapshot after change",
						"path", path,
						"error", err,
					)
					continue
				}
				if !found {
					snap = nil
				}
				onChange(snap)
			}
		}
	}()

	onChange(snapshot)

	return func() {
		cancel()
		if err := pubsub.Close(); err != nil {
			s.logger.Warnw("failed to close subscription", "path", path, "error", err)
		}
	}, nil
}

func (s *Store) publish(ctx context.Context, collection string) {
	if err := s.client.Publish(ctx, changeChannel, collection).Err(); err != nil {
		s.logger.Warnw("failed to publish change notification",
			"collection", collection,
			"error", err,
		)
	}
}
