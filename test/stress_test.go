//go:build stress

package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"poolflow/dispute"
	"poolflow/pool"
	"poolflow/test/actors"
	"poolflow/test/chaos"
	"poolflow/test/infra"
	"poolflow/test/oracles"
	"poolflow/timeline"
	"poolflow/wallet"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "shared Postgres DSN; the run gets its own schema (avoids Docker)")
	flPools       = flag.Int("pools", 3, "number of pools under contention")
	flPlayers     = flag.Int("players", 12, "number of player wallets")
)

func TestPoolConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	t.Logf("seed=%d", seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	h, err := infra.NewHarness(ctx, infra.Options{DSN: *flDSN})
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	db := h.Pool()

	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	policy := pool.DefaultPolicy()
	wallets := wallet.NewRepository(db)
	svc := pool.NewService(db, pool.NewRepository(db), wallets, dispute.NewRepository(db), timeline.NewRepository(db), policy).
		WithLogger(logger)

	env := mustSeed(t, ctx, svc, wallets, db, seed)
	env.MinStake = policy.MinimumStake

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	type actor func(context.Context, actors.Env, *rand.Rand, <-chan struct{}) error
	spawn := func(n int, fn actor) {
		for i := 0; i < n; i++ {
			rng := rand.New(rand.NewSource(seed + int64(i)*7919))
			g.Go(func() error { return fn(ctx2, env, rng, stop) })
		}
	}
	spawn(*flConcurrency, actors.Entrant)
	spawn(2, actors.Manager)
	spawn(2, actors.Disputer)
	spawn(1, actors.Arbitrator)
	spawn(1, actors.Refuser)
	spawn(1, actors.OutboxWorker)
	go chaos.TerminateRandomBackend(ctx2, db, h.ApplicationName(), rand.New(rand.NewSource(seed)), stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var (
		failed     bool
		oracleErrs int
	)
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := runOracles(ctx2, db)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// chaos may kill the oracle's own connection
				if oracleErrs++; oracleErrs > 3 {
					t.Fatalf("oracle error: %v", err)
				}
				continue
			}
			oracleErrs = 0
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, db)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	// quiesced: conservation must hold exactly
	name, row, err := runOracles(context.Background(), db)
	if err != nil {
		t.Fatalf("final oracle error: %v", err)
	}
	if name != "" {
		dumpRecent(t, context.Background(), db)
		t.Fatalf("Oracle %s failed after quiesce. First row: %s (seed=%d)", name, row, seed)
	}
	assertConservation(t, context.Background(), db, env)
}

func runOracles(ctx context.Context, db *pgxpool.Pool) (string, string, error) {
	return oracles.Run(ctx, db, pool.DefaultMinimumStake.String())
}

const initialBalance = "1000000000000000000000" // 1000 ether

func mustSeed(t *testing.T, ctx context.Context, svc *pool.Service, wallets *wallet.Repository, db *pgxpool.Pool, seed int64) actors.Env {
	t.Helper()
	env := actors.Env{
		DB:      db,
		Pools:   svc,
		Wallets: wallets,
		Manager: pool.MustParseAddress(fmt.Sprintf("0x%040x", 0xa11ce)),
		Arbiter: pool.MustParseAddress(fmt.Sprintf("0x%040x", 0xa4b)),
	}

	funds, _ := new(big.Int).SetString(initialBalance, 10)
	for i := 0; i < *flPlayers; i++ {
		p := pool.MustParseAddress(fmt.Sprintf("0x%040x", 0x1000+i))
		if _, err := wallets.Deposit(ctx, p.String(), funds); err != nil {
			t.Fatalf("seed wallet %s: %v", p, err)
		}
		env.Players = append(env.Players, p)
	}

	for i := 0; i < *flPools; i++ {
		st, err := svc.Deploy(ctx, pool.DeployParams{
			Manager:      env.Manager,
			GoverningLaw: "Texas",
			Jurisdiction: fmt.Sprintf("Stress County %d (seed %d)", i, seed),
			Arbitrator:   env.Arbiter,
		})
		if err != nil {
			t.Fatalf("seed pool: %v", err)
		}
		env.Targets = append(env.Targets, st.Address)
	}
	return env
}

// assertConservation checks that no wei was created or destroyed: player
// wallets plus custody equal what was deposited.
func assertConservation(t *testing.T, ctx context.Context, db *pgxpool.Pool, env actors.Env) {
	t.Helper()
	var total string
	if err := db.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0)::text FROM wallets`).Scan(&total); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	want, _ := new(big.Int).SetString(initialBalance, 10)
	want.Mul(want, big.NewInt(int64(len(env.Players))))
	if total != want.String() {
		t.Fatalf("wei not conserved: have %s want %s", total, want)
	}
}

func dumpRecent(t *testing.T, ctx context.Context, db *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"pools", `SELECT address, round, dispute_active, updated_at FROM pools`},
		{"pool_entries", `SELECT pool_address, round, slot, player, value FROM pool_entries ORDER BY id DESC LIMIT 50`},
		{"pool_events", `SELECT pool_address, seq, kind, created_at FROM pool_events ORDER BY id DESC LIMIT 50`},
		{"disputes", `SELECT id, pool_address, round, raised_by, status FROM disputes ORDER BY created_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := db.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
