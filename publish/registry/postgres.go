package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS deployments (
		network        TEXT        NOT NULL,
		name           TEXT        NOT NULL,
		contract       TEXT        NOT NULL,
		address        TEXT        NOT NULL,
		tx_hash        TEXT        NOT NULL,
		deployer       TEXT        NOT NULL,
		args           BYTEA,
		bytecode_hash  TEXT        NOT NULL,
		block_number   BIGINT      NOT NULL DEFAULT 0,
		gas_used       BIGINT      NOT NULL DEFAULT 0,
		implementation TEXT,
		run_id         UUID        NOT NULL,
		deployed_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (network, name)
	)`,
	`CREATE TABLE IF NOT EXISTS deployment_tasks (
		network      TEXT        NOT NULL,
		task_id      TEXT        NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (network, task_id)
	)`,
}

// PostgresStore shares deployment state between operators through a
// database. Rows are keyed by (network, name).
type PostgresStore struct {
	pool    *pgxpool.Pool
	network string
}

func OpenPostgresStore(ctx context.Context, dsn, network string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(pool, network)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(pool *pgxpool.Pool, network string) *PostgresStore {
	return &PostgresStore{pool: pool, network: network}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate registry: %w", err)
		}
	}
	return nil
}

const selectRecord = `
	SELECT name, contract, address, tx_hash, deployer, args, bytecode_hash,
	       block_number, gas_used, implementation, run_id, deployed_at
	FROM deployments`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r                                 Record
		address, txHash, deployer, bcHash string
		args                              []byte
		implementation                    *string
		blockNumber, gasUsed              int64
	)
	err := row.Scan(
		&r.Name,
		&r.Contract,
		&address,
		&txHash,
		&deployer,
		&args,
		&bcHash,
		&blockNumber,
		&gasUsed,
		&implementation,
		&r.RunID,
		&r.DeployedAt,
	)
	if err != nil {
		return Record{}, err
	}
	r.Args = args
	r.Address = common.HexToAddress(address)
	r.TxHash = common.HexToHash(txHash)
	r.Deployer = common.HexToAddress(deployer)
	r.BytecodeHash = common.HexToHash(bcHash)
	r.BlockNumber = uint64(blockNumber)
	r.GasUsed = uint64(gasUsed)
	if implementation != nil {
		impl := common.HexToAddress(*implementation)
		r.Implementation = &impl
	}
	return r, nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE network = $1 AND name = $2`, s.network, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get deployment %s: %w", name, err)
	}
	return r, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	var implementation *string
	if rec.Implementation != nil {
		v := rec.Implementation.Hex()
		implementation = &v
	}
	query := `
		INSERT INTO deployments (network, name, contract, address, tx_hash, deployer, args,
		                         bytecode_hash, block_number, gas_used, implementation, run_id, deployed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (network, name) DO UPDATE SET
			contract = EXCLUDED.contract,
			address = EXCLUDED.address,
			tx_hash = EXCLUDED.tx_hash,
			deployer = EXCLUDED.deployer,
			args = EXCLUDED.args,
			bytecode_hash = EXCLUDED.bytecode_hash,
			block_number = EXCLUDED.block_number,
			gas_used = EXCLUDED.gas_used,
			implementation = EXCLUDED.implementation,
			run_id = EXCLUDED.run_id,
			deployed_at = EXCLUDED.deployed_at`

	_, err := s.pool.Exec(ctx, query,
		s.network,
		rec.Name,
		rec.Contract,
		rec.Address.Hex(),
		rec.TxHash.Hex(),
		rec.Deployer.Hex(),
		[]byte(rec.Args),
		rec.BytecodeHash.Hex(),
		int64(rec.BlockNumber),
		int64(rec.GasUsed),
		implementation,
		rec.RunID,
		rec.DeployedAt,
	)
	if err != nil {
		return fmt.Errorf("save deployment %s: %w", rec.Name, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectRecord+` WHERE network = $1 ORDER BY name`, s.network)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IsComplete(ctx context.Context, taskID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM deployment_tasks WHERE network = $1 AND task_id = $2)`,
		s.network, taskID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check task %s: %w", taskID, err)
	}
	return exists, nil
}

func (s *PostgresStore) MarkComplete(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployment_tasks (network, task_id, completed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (network, task_id) DO UPDATE SET completed_at = EXCLUDED.completed_at`,
		s.network, taskID,
	)
	if err != nil {
		return fmt.Errorf("mark task %s: %w", taskID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
