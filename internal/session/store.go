// Package session keeps uncommitted ingestion sessions in redis and
// serialises writers per session token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"offcut-ledger-backend/internal/parser"
)

type State string

const (
	StateUploaded     State = "uploaded"
	StateParsed       State = "parsed"
	StatePreviewReady State = "preview_ready"
	StateCommitted    State = "committed"
	StateRejected     State = "rejected"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	Token     string       `json:"token"`
	Filename  string       `json:"filename"`
	Content   []byte       `json:"content,omitempty"`
	State     State        `json:"state"`
	BatchDate string       `json:"batch_date,omitempty"`
	Rows      []parser.Row `json:"rows,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store { return &Store{rdb: rdb, ttl: ttl} }

func sessionKey(token string) string { return fmt.Sprintf("ingest:sess:%s", token) }

// Save writes the session and restarts its expiry.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(sess.Token), b, s.ttl).Err()
}

func (s *Store) Load(ctx context.Context, token string) (*Session, error) {
	b, err := s.rdb.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", token, err)
	}
	return &sess, nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, sessionKey(token)).Err()
}
