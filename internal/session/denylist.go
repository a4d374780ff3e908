package session

import (
	"context"
	"time"

	"agora/api/internal/logging"
)

// Denylist records revoked tokens until they would have expired anyway.
type Denylist interface {
	Deny(ctx context.Context, tokenHash string, expiresAt time.Time) error
	IsDenied(ctx context.Context, tokenHash string) (bool, error)
	Ping(ctx context.Context) error
}

// TokenTable is the Postgres side of the denylist.
type TokenTable interface {
	DenyToken(ctx context.Context, tokenHash string, expiresAt time.Time) error
	IsTokenDenied(ctx context.Context, tokenHash string) (bool, error)
	PurgeExpiredTokens(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// PostgresStore keeps the denylist in a table. Rows past their expiry are
// ignored on lookup and deleted by PeriodicallyPurge.
type PostgresStore struct {
	table TokenTable
	now   func() time.Time
}

func NewPostgresStore(table TokenTable) *PostgresStore {
	return &PostgresStore{table: table, now: time.Now}
}

func (s *PostgresStore) Deny(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	if !expiresAt.After(s.now()) {
		return nil
	}
	return s.table.DenyToken(ctx, tokenHash, expiresAt)
}

func (s *PostgresStore) IsDenied(ctx context.Context, tokenHash string) (bool, error) {
	return s.table.IsTokenDenied(ctx, tokenHash)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.table.Ping(ctx)
}

// PeriodicallyPurge deletes expired rows every interval until ctx is done.
// The returned channel is closed once the loop has stopped.
func (s *PostgresStore) PeriodicallyPurge(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				n, err := s.table.PurgeExpiredTokens(ctx)
				if err == nil {
					if n > 0 {
						logging.Info().Int64("num purged tokens", n).Msg("Purged expired denylist entries")
					}
				} else {
					logging.Error().Err(err).Msg("Failed to purge expired denylist entries")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
