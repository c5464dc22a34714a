package actors

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"poolflow/pool"
	"poolflow/wallet"
)

// Env is what every actor shares.
type Env struct {
	DB       *pgxpool.Pool
	Pools    *pool.Service
	Wallets  *wallet.Repository
	Targets  []pool.Address
	Players  []pool.Address
	Manager  pool.Address
	Arbiter  pool.Address
	MinStake *big.Int
}

// expected lists the refusals actors provoke on purpose.
var expected = []error{
	pool.ErrUnauthorized,
	pool.ErrInsufficientStake,
	pool.ErrNotAParticipant,
	pool.ErrNoActiveDispute,
	pool.ErrEmptyPool,
	pool.ErrTransferFailed,
	pool.ErrDisputeActive,
	wallet.ErrInsufficientFunds,
}

// tolerate swallows domain refusals and connection loss from chaos; only
// context cancellation ends an actor.
func tolerate(ctx context.Context, actor string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return nil
		}
	}
	log.WithError(err).WithField("actor", actor).Debug("transient failure")
	return nil
}

func loop(ctx context.Context, stop <-chan struct{}, pause func() time.Duration, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); err != nil {
			return err
		}
		time.Sleep(pause())
	}
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.Intn(len(items))]
}

// Entrant stakes random amounts, some at or below the minimum, into random pools.
func Entrant(ctx context.Context, env Env, rng *rand.Rand, stop <-chan struct{}) error {
	return loop(ctx, stop, func() time.Duration { return time.Duration(5+rng.Intn(15)) * time.Millisecond }, func() error {
		value := new(big.Int).Set(env.MinStake)
		switch rng.Intn(10) {
		case 0:
			// exactly the minimum is refused
		case 1:
			value.Sub(value, big.NewInt(1))
		default:
			value.Add(value, big.NewInt(int64(1+rng.Intn(1_000_000))))
		}
		_, err := env.Pools.Enter(ctx, pick(rng, env.Targets), pick(rng, env.Players), value)
		return tolerate(ctx, "entrant", err)
	})
}

// Manager draws winners. Every fifth attempt comes from a non-manager.
func Manager(ctx context.Context, env Env, rng *rand.Rand, stop <-chan struct{}) error {
	return loop(ctx, stop, func() time.Duration { return time.Duration(50+rng.Intn(100)) * time.Millisecond }, func() error {
		caller := env.Manager
		if rng.Intn(5) == 0 {
			caller = pick(rng, env.Players)
		}
		payout, err := env.Pools.PickWinner(ctx, pick(rng, env.Targets), caller)
		if err == nil && caller != env.Manager {
			return fmt.Errorf("manager: %s paid out without being manager", caller)
		}
		if err == nil && payout.Amount.Sign() <= 0 {
			return fmt.Errorf("manager: empty payout for round %d", payout.Round)
		}
		return tolerate(ctx, "manager", err)
	})
}

// Disputer raises disputes as random addresses, participants or not.
func Disputer(ctx context.Context, env Env, rng *rand.Rand, stop <-chan struct{}) error {
	return loop(ctx, stop, func() time.Duration { return time.Duration(100+rng.Intn(200)) * time.Millisecond }, func() error {
		_, err := env.Pools.RaiseDispute(ctx, pick(rng, env.Targets), pick(rng, env.Players), fmt.Sprintf("complaint %d", rng.Int63()))
		return tolerate(ctx, "disputer", err)
	})
}

// Arbitrator resolves whatever is pending. Occasionally the manager tries instead.
func Arbitrator(ctx context.Context, env Env, rng *rand.Rand, stop <-chan struct{}) error {
	return loop(ctx, stop, func() time.Duration { return time.Duration(150+rng.Intn(150)) * time.Millisecond }, func() error {
		caller := env.Arbiter
		if rng.Intn(6) == 0 {
			caller = env.Manager
		}
		_, err := env.Pools.ResolveDispute(ctx, pick(rng, env.Targets), caller, "reviewed")
		if err == nil && caller != env.Arbiter {
			return fmt.Errorf("arbitrator: %s resolved without being arbitrator", caller)
		}
		return tolerate(ctx, "arbitrator", err)
	})
}

// Refuser flips whether a random player accepts funds, forcing payouts to roll back.
func Refuser(ctx context.Context, env Env, rng *rand.Rand, stop <-chan struct{}) error {
	return loop(ctx, stop, func() time.Duration { return time.Duration(200+rng.Intn(300)) * time.Millisecond }, func() error {
		_, err := env.Wallets.SetAcceptsFunds(ctx, pick(rng, env.Players).String(), rng.Intn(4) != 0)
		return tolerate(ctx, "refuser", err)
	})
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, failing one in ten to exercise retries.
func OutboxWorker(ctx context.Context, env Env, rng *rand.Rand, stop <-chan struct{}) error {
	return loop(ctx, stop, func() time.Duration { return 100 * time.Millisecond }, func() error {
		tx, err := env.DB.Begin(ctx)
		if err != nil {
			return tolerate(ctx, "outbox", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			return tolerate(ctx, "outbox", err)
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err == nil {
				ids = append(ids, id)
			}
		}
		rows.Close()

		for _, id := range ids {
			status := "processed"
			if rng.Intn(10) == 0 {
				status = "pending"
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status=$2, attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id, status); err != nil {
				return tolerate(ctx, "outbox", err)
			}
		}
		return tolerate(ctx, "outbox", tx.Commit(ctx))
	})
}
