package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"lendrisk/native/lending"
	"lendrisk/services/lending/engine"
)

const defaultPrefix = "lendrisk"

// Options configures the redis connection.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Store keeps loan state as JSON documents in redis. Each loan owns three
// keys plus membership in the funded set; writes go through MULTI/EXEC.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ engine.Store = (*Store)(nil)

// Dial connects to redis and verifies the connection.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts.Prefix), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) loanKey(id string) string     { return s.prefix + ":loan:" + id }
func (s *Store) accountKey(id string) string  { return s.prefix + ":account:" + id }
func (s *Store) positionKey(id string) string { return s.prefix + ":position:" + id }
func (s *Store) fundedKey() string            { return s.prefix + ":funded" }

func (s *Store) Load(ctx context.Context, loanID string) (*engine.LoanState, error) {
	pipe := s.client.Pipeline()
	loanCmd := pipe.Get(ctx, s.loanKey(loanID))
	accountCmd := pipe.Get(ctx, s.accountKey(loanID))
	positionCmd := pipe.Get(ctx, s.positionKey(loanID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load loan %s: %w", loanID, err)
	}

	raw, err := loanCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: loan %s", engine.ErrNotFound, loanID)
	}
	if err != nil {
		return nil, fmt.Errorf("load loan %s: %w", loanID, err)
	}
	state := &engine.LoanState{Loan: &engine.Loan{}}
	if err := json.Unmarshal(raw, state.Loan); err != nil {
		return nil, fmt.Errorf("decode loan %s: %w", loanID, err)
	}
	if raw, err := accountCmd.Bytes(); err == nil {
		state.Account = &lending.RepaymentAccount{}
		if err := json.Unmarshal(raw, state.Account); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", loanID, err)
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load account %s: %w", loanID, err)
	}
	if raw, err := positionCmd.Bytes(); err == nil {
		state.Position = &lending.CollateralPosition{}
		if err := json.Unmarshal(raw, state.Position); err != nil {
			return nil, fmt.Errorf("decode position %s: %w", loanID, err)
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load position %s: %w", loanID, err)
	}
	return state, nil
}

func (s *Store) Save(ctx context.Context, state *engine.LoanState) error {
	if state == nil || state.Loan == nil {
		return fmt.Errorf("loan state required")
	}
	id := state.Loan.ID
	loanDoc, err := json.Marshal(state.Loan)
	if err != nil {
		return fmt.Errorf("encode loan %s: %w", id, err)
	}
	var accountDoc, positionDoc []byte
	if state.Account != nil {
		if accountDoc, err = json.Marshal(state.Account); err != nil {
			return fmt.Errorf("encode account %s: %w", id, err)
		}
	}
	if state.Position != nil {
		if positionDoc, err = json.Marshal(state.Position); err != nil {
			return fmt.Errorf("encode position %s: %w", id, err)
		}
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.loanKey(id), loanDoc, 0)
		if accountDoc != nil {
			pipe.Set(ctx, s.accountKey(id), accountDoc, 0)
		}
		if positionDoc != nil {
			pipe.Set(ctx, s.positionKey(id), positionDoc, 0)
		}
		if state.Loan.Status == engine.LoanFunded {
			pipe.SAdd(ctx, s.fundedKey(), id)
		} else {
			pipe.SRem(ctx, s.fundedKey(), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save loan %s: %w", id, err)
	}
	return nil
}

func (s *Store) Archive(ctx context.Context, loan *engine.Loan) error {
	if loan == nil {
		return fmt.Errorf("loan required")
	}
	exists, err := s.client.Exists(ctx, s.loanKey(loan.ID)).Result()
	if err != nil {
		return fmt.Errorf("archive loan %s: %w", loan.ID, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: loan %s", engine.ErrNotFound, loan.ID)
	}
	doc, err := json.Marshal(loan)
	if err != nil {
		return fmt.Errorf("encode loan %s: %w", loan.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.loanKey(loan.ID), doc, 0)
		pipe.Del(ctx, s.accountKey(loan.ID), s.positionKey(loan.ID))
		pipe.SRem(ctx, s.fundedKey(), loan.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive loan %s: %w", loan.ID, err)
	}
	return nil
}

func (s *Store) ListFunded(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.fundedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list funded loans: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
