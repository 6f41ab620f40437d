package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
	"voxlobby/internal/infrastructure/store"
)

type subscriber struct {
	id       int
	path     string
	onChange func(json.RawMessage)
}

// Store is an in-memory DirectoryStore with the same semantics as the redis
// backend. It backs tests and the redis-disabled mode. ContentionHook, when
// set, runs between a transaction's read and its commit so tests can force
// compare-and-swap conflicts.
type Store struct {
	mu       sync.Mutex
	docs     map[string]map[string]map[string]json.RawMessage
	versions map[string]uint64
	subs     []*subscriber
	nextSub  int

	ContentionHook func(path string)
}

func NewStore() *Store {
	return &Store{
		docs:     make(map[string]map[string]map[string]json.RawMessage),
		versions: make(map[string]uint64),
	}
}

var _ ports.DirectoryStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	p, err := store.Parse(path)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(p)
}

func (s *Store) snapshotLocked(p store.Path) (json.RawMessage, bool, error) {
	coll, ok := s.docs[p.Collection]
	if !ok {
		if p.Depth() == 1 {
			return json.RawMessage("{}"), true, nil
		}
		return nil, false, nil
	}

	switch p.Depth() {
	case 1:
		out := make(map[string]json.RawMessage, len(coll))
		for id, fields := range coll {
			out[id] = marshalFields(fields)
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	case 2:
		fields, ok := coll[p.Doc]
		if !ok {
			return nil, false, nil
		}
		return marshalFields(fields), true, nil
	default:
		fields, ok := coll[p.Doc]
		if !ok {
			return nil, false, nil
		}
		raw, ok := fields[p.Field]
		if !ok {
			return nil, false, nil
		}
		return raw, true, nil
	}
}

func marshalFields(fields map[string]json.RawMessage) json.RawMessage {
	data, _ := json.Marshal(fields)
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

	s.mu.Lock()
	if p.Depth() == 2 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: document value must be an object", domain.ErrPathInvalid)
		}
		s.collLocked(p.Collection)[p.Doc] = fields
	} else {
		doc := s.docLocked(p)
		doc[p.Field] = data
	}
	s.bumpLocked(path)
	subs := s.affectedLocked(p)
	s.mu.Unlock()

	s.notify(subs)
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

	s.mu.Lock()
	doc := s.docLocked(p)
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		doc[k] = data
		s.bumpLocked(path + "/" + k)
	}
	subs := s.affectedLocked(p)
	s.mu.Unlock()

	s.notify(subs)
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

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		old, _, _ := s.snapshotLocked(p)
		version := s.versions[path]
		s.mu.Unlock()

		next, err := fn(old)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}

		if s.ContentionHook != nil {
			s.ContentionHook(path)
		}

		s.mu.Lock()
		if s.versions[path] != version {
			s.mu.Unlock()
			continue // lost the race, re-read and retry
		}
		doc := s.docLocked(p)
		doc[p.Field] = data
		s.bumpLocked(path)
		subs := s.affectedLocked(p)
		s.mu.Unlock()

		s.notify(subs)
		return data, nil
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

	s.mu.Lock()
	coll, ok := s.docs[p.Collection]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if p.Depth() == 2 {
		delete(coll, p.Doc)
	} else if fields, ok := coll[p.Doc]; ok {
		delete(fields, p.Field)
	}
	s.bumpLocked(path)
	subs := s.affectedLocked(p)
	s.mu.Unlock()

	s.notify(subs)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, path string, onChange func(json.RawMessage)) (ports.Unsubscribe, error) {
	p, err := store.Parse(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextSub++
	sub := &subscriber{id: s.nextSub, path: path, onChange: onChange}
	s.subs = append(s.subs, sub)
	initial, _, _ := s.snapshotLocked(p)
	s.mu.Unlock()

	onChange(initial)

	id := sub.id
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, candidate := range s.subs {
			if candidate.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}, nil
}

func (s *Store) collLocked(name string) map[string]map[string]json.RawMessage {
	coll, ok := s.docs[name]
	if !ok {
		coll = make(map[string]map[string]json.RawMessage)
		s.docs[name] = coll
	}
	return coll
}

func (s *Store) docLocked(p store.Path) map[string]json.RawMessage {
	coll := s.collLocked(p.Collection)
	doc, ok := coll[p.Doc]
	if !ok {
		doc = make(map[string]json.RawMessage)
		coll[p.Doc] = doc
	}
	return doc
}

func (s *Store) bumpLocked(path string) {
	s.versions[path]++
}

// affectedLocked gathers subscribers watching the mutated path or any of its
// ancestors, paired with the snapshot each should receive.
func (s *Store) affectedLocked(p store.Path) []func() {
	prefixes := []string{p.Collection}
	if p.Doc != "" {
		prefixes = append(prefixes, p.Collection+"/"+p.Doc)
	}

	var pending []func()
	for _, sub := range s.subs {
		for _, prefix := range prefixes {
			if sub.path == prefix {
				sp, _ := store.Parse(sub.path)
				snapshot, _, _ := s.snapshotLocked(sp)
				fn, arg := sub.onChange, snapshot
				pending = append(pending, func() { fn(arg) })
				break
			}
		}
	}
	return pending
}

func (s *Store) notify(pending []func()) {
	for _, deliver := range pending {
		deliver()
	}
}
