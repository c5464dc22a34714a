package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// TerminateRandomBackend kills a random backend opened under appName, mid
// transaction or not. Services must roll back cleanly when their connection
// dies between the pool row lock and the commit.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appName string, rng *rand.Rand, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rng.Intn(5) != 0 {
				continue
			}
			var killed bool
			err := pool.QueryRow(ctx, `
				SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false)
				FROM (
					SELECT pid FROM pg_stat_activity
					WHERE datname = current_database()
					  AND application_name = $1
					  AND pid <> pg_backend_pid()
					ORDER BY random()
					LIMIT 1
				) victim`, appName).Scan(&killed)
			if err != nil {
				log.WithError(err).Debug("chaos: terminate failed")
				continue
			}
			if killed {
				log.Debug("chaos: backend terminated")
			}
		}
	}
}
