package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore persists session documents as etcd keys under a common
// prefix. Useful when the daemon already runs next to an etcd cluster
// and no other datastore is available.
type EtcdStore struct {
	kv     clientv3.KV
	prefix string
	client *clientv3.Client
}

// EtcdStoreOption configures an EtcdStore.
type EtcdStoreOption func(*EtcdStore)

// WithEtcdPrefix sets the key prefix (default "vigil/sessions/").
func WithEtcdPrefix(prefix string) EtcdStoreOption {
	return func(s *EtcdStore) { s.prefix = prefix }
}

// NewEtcdStore creates an etcd-backed session store on an existing KV.
func NewEtcdStore(kv clientv3.KV, opts ...EtcdStoreOption) *EtcdStore {
	s := &EtcdStore{
		kv:     kv,
		prefix: "vigil/sessions/",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectEtcd dials an etcd cluster and returns a store bound to it.
func ConnectEtcd(endpoints []string, opts ...EtcdStoreOption) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	s := NewEtcdStore(cli.KV, opts...)
	s.client = cli
	return s, nil
}

// Close releases the etcd client, if the store owns one.
func (s *EtcdStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *EtcdStore) key(id string) string {
	return s.prefix + id
}

// Save writes the full history and metadata for a session.
func (s *EtcdStore) Save(ctx context.Context, id string, history []Message, meta Metadata) error {
	data, err := json.Marshal(newDocument(id, history, meta))
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", id, err)
	}
	if _, err := s.kv.Put(ctx, s.key(id), string(data)); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

// Load retrieves a session document, or nil if none exists. A value
// that no longer parses reads as absent.
func (s *EtcdStore) Load(ctx context.Context, id string) (*Document, error) {
	resp, err := s.kv.Get(ctx, s.key(id))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var doc Document
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return nil, nil
	}
	return &doc, nil
}

// Delete removes a session key, reporting whether one was removed.
func (s *EtcdStore) Delete(ctx context.Context, id string) (bool, error) {
	resp, err := s.kv.Delete(ctx, s.key(id))
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return resp.Deleted > 0, nil
}

// List returns the IDs of all persisted sessions.
func (s *EtcdStore) List(ctx context.Context) ([]string, error) {
	resp, err := s.kv.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	ids := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, strings.TrimPrefix(string(kv.Key), s.prefix))
	}
	return ids, nil
}
