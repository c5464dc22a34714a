package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DefaultApplicationName tags harness connections when Options leaves it empty.
const DefaultApplicationName = "poolflow-stress"

// Options says where a stress run finds PostgreSQL.
type Options struct {
	// DSN points at a server shared with other work. The run is confined to
	// a schema of its own there. Falls back to POOLFLOW_STRESS_DSN.
	DSN string
	// Database is created in the container, or recreated on a local server.
	Database        string
	User            string
	Password        string
	Image           string
	ApplicationName string
}

func (o Options) withDefaults() Options {
	if o.DSN == "" {
		o.DSN = os.Getenv("POOLFLOW_STRESS_DSN")
	}
	if o.Database == "" {
		o.Database = "poolflow_stress"
	}
	if o.User == "" {
		o.User = "poolflow"
	}
	if o.Password == "" {
		o.Password = "poolflow"
	}
	if o.Image == "" {
		o.Image = "postgres:16"
	}
	if o.ApplicationName == "" {
		o.ApplicationName = DefaultApplicationName
	}
	return o
}

// Harness owns the database a stress run talks to.
type Harness struct {
	opts       Options
	container  *postgres.PostgresContainer
	pool       *pgxpool.Pool
	dropSchema func(context.Context) error
}

// NewHarness uses opts.DSN when set, otherwise a throwaway container when
// Docker answers, otherwise a database recreated on the local server.
// Migrations are applied before it returns.
func NewHarness(ctx context.Context, opts Options) (*Harness, error) {
	h := &Harness{opts: opts.withDefaults()}

	dsn := h.opts.DSN
	shared := dsn != ""
	var err error
	switch {
	case shared:
	case dockerAvailable(ctx):
		h.container, dsn, err = startContainer(ctx, h.opts)
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
	default:
		dsn, err = recreateLocal(ctx, h.opts)
		if err != nil {
			return nil, fmt.Errorf("local postgres: %w", err)
		}
	}

	if err := h.connect(ctx, dsn, shared); err != nil {
		_ = h.Close(ctx)
		return nil, err
	}
	log.WithFields(log.Fields{
		"shared":    shared,
		"container": h.container != nil,
		"app":       h.opts.ApplicationName,
	}).Debug("stress database ready")
	return h, nil
}

func (h *Harness) connect(ctx context.Context, dsn string, shared bool) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = h.opts.ApplicationName

	if shared {
		if h.dropSchema, err = isolate(ctx, cfg); err != nil {
			return err
		}
	}
	if h.pool, err = pgxpool.NewWithConfig(ctx, cfg); err != nil {
		return fmt.Errorf("connect pool: %w", err)
	}
	return migrate(ctx, h.pool)
}

// Pool exposes the migrated pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// ApplicationName is the tag on every connection of the run; chaos only
// terminates backends carrying it.
func (h *Harness) ApplicationName() string {
	return h.opts.ApplicationName
}

// Close releases the pool, drops the run schema and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var errs []error
	if h.dropSchema != nil {
		errs = append(errs, h.dropSchema(ctx))
	}
	if h.container != nil {
		errs = append(errs, h.container.Terminate(ctx))
	}
	return errors.Join(errs...)
}

func startContainer(ctx context.Context, opts Options) (*postgres.PostgresContainer, string, error) {
	c, err := postgres.Run(ctx, opts.Image,
		postgres.WithDatabase(opts.Database),
		postgres.WithUsername(opts.User),
		postgres.WithPassword(opts.Password),
	)
	if err != nil {
		return nil, "", err
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable", "application_name="+url.QueryEscape(opts.ApplicationName))
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	return c, dsn, nil
}

// recreateLocal drops and recreates opts.Database on 127.0.0.1:5432 using the
// first superuser login that works, and returns a DSN for it.
func recreateLocal(ctx context.Context, opts Options) (string, error) {
	var (
		conn *pgx.Conn
		who  *url.Userinfo
		err  error
	)
	for _, candidate := range localLogins() {
		conn, err = pgx.Connect(ctx, localDSN(candidate, "postgres", opts.ApplicationName))
		if err == nil {
			who = candidate
			break
		}
	}
	if conn == nil {
		return "", fmt.Errorf("no usable login: %w", err)
	}
	defer conn.Close(ctx)

	// a crashed earlier run may still hold connections
	if _, err := conn.Exec(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		opts.Database,
	); err != nil {
		return "", fmt.Errorf("terminate stale sessions: %w", err)
	}
	db := pgx.Identifier{opts.Database}.Sanitize()
	if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+db); err != nil {
		return "", fmt.Errorf("drop %s: %w", opts.Database, err)
	}
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+db); err != nil {
		return "", fmt.Errorf("create %s: %w", opts.Database, err)
	}
	return localDSN(who, opts.Database, opts.ApplicationName), nil
}

func localLogins() []*url.Userinfo {
	logins := []*url.Userinfo{url.User("postgres"), url.UserPassword("postgres", "postgres")}
	if u := os.Getenv("USER"); u != "" && u != "postgres" {
		logins = append(logins, url.User(u))
	}
	return logins
}

func localDSN(who *url.Userinfo, database, app string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     who,
		Host:     "127.0.0.1:5432",
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": {"disable"}, "application_name": {app}}.Encode(),
	}
	return u.String()
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
