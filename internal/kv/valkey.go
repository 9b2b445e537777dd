package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Valkey keeps each namespace in one hash, "<prefix>:<namespace>", so Clear
// is a single DEL. Every write refreshes the hash TTL.
type Valkey struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

func NewValkey(client valkey.Client, prefix string, ttl time.Duration) *Valkey {
	return &Valkey{client: client, prefix: prefix, ttl: ttl}
}

// DialValkey connects to addr and returns a ready backend.
func DialValkey(addr, prefix string, ttl time.Duration) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("creating valkey client: %w", err)
	}
	return NewValkey(client, prefix, ttl), nil
}

func (v *Valkey) Namespace(name string) Store {
	return &valkeyStore{v: v, key: v.prefix + ":" + name}
}

func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}

type valkeyStore struct {
	v   *Valkey
	key string
}

func (s *valkeyStore) Get(ctx context.Context, field string) (string, bool, error) {
	c := s.v.client
	val, err := c.Do(ctx, c.B().Hget().Key(s.key).Field(field).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %s from valkey: %w", field, err)
	}
	return val, true, nil
}

func (s *valkeyStore) Set(ctx context.Context, field, value string) error {
	c := s.v.client
	if err := c.Do(ctx, c.B().Hset().Key(s.key).FieldValue().FieldValue(field, value).Build()).Error(); err != nil {
		return fmt.Errorf("storing %s in valkey: %w", field, err)
	}
	if s.v.ttl > 0 {
		secs := int64(s.v.ttl / time.Second)
		if err := c.Do(ctx, c.B().Expire().Key(s.key).Seconds(secs).Build()).Error(); err != nil {
			return fmt.Errorf("setting expiry on %s: %w", s.key, err)
		}
	}
	return nil
}

func (s *valkeyStore) Delete(ctx context.Context, field string) error {
	c := s.v.client
	if err := c.Do(ctx, c.B().Hdel().Key(s.key).Field(field).Build()).Error(); err != nil {
		return fmt.Errorf("deleting %s from valkey: %w", field, err)
	}
	return nil
}

func (s *valkeyStore) Clear(ctx context.Context) error {
	c := s.v.client
	if err := c.Do(ctx, c.B().Del().Key(s.key).Build()).Error(); err != nil {
		return fmt.Errorf("clearing %s in valkey: %w", s.key, err)
	}
	return nil
}
