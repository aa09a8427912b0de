package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"roomchat/internal/storage/zapadapter"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotExist    = errors.New("user does not exist")
	ErrRoomExists      = errors.New("room name already taken")
	ErrRoomNotExist    = errors.New("room does not exist")
	ErrNotMember       = errors.New("user is not a member of the room")
	ErrMessageNotExist = errors.New("message does not exist")
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the typed repository over the relational schema. All access goes
// through parameterized SQL; nothing outside this package builds queries.
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
	cfg    Config
}

// New connects a pgx pool configured from cfg, wiring pgx logging through the
// zapadapter, and returns a ready Store.
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
		cfg:    cfg,
	}, nil
}

// Migrate applies the embedded schema migrations. goose wants a database/sql
// handle, so a short-lived stdlib connection is opened beside the pool.
func (s *Store) Migrate() error {
	connConfig, err := pgx.ParseConfig(s.cfg.DSN())
	if err != nil {
		return err
	}

	db := stdlib.OpenDB(*connConfig)
	defer func(db *sql.DB) { _ = db.Close() }(db)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.Up(db, "migrations")
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}
