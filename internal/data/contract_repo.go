package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/telbill/robo-ops/internal/data/pgxutil"
	"github.com/telbill/robo-ops/internal/domain/model"
)

// ContractRepo provides read access to carrier contracts plus the inserts
// the seeding tools need. The workflow core only uses the directory side.
type ContractRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewContractRepo creates a new ContractRepo instance with the given database connection.
func NewContractRepo(db *sql.DB) *ContractRepo {
	return &ContractRepo{DB: db, timeProvider: RealTimeProvider{}}
}

const contractColumns = `id, client_id, carrier_id, active, created_at`

// Create inserts a contract row and returns the stored record.
func (r *ContractRepo) Create(ctx context.Context, c *model.Contract) (*model.Contract, error) {
	if c == nil {
		return nil, fmt.Errorf("contract is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.timeProvider.Now()
	}

	q := `INSERT INTO contracts (` + contractColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + contractColumns

	var out model.Contract
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, c.ID, c.ClientID, c.CarrierID, c.Active, c.CreatedAt)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Contract])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create contract: %w", mapStoreError(err, "contract not found"))
	}
	return &out, nil
}

// GetByID returns a single contract by id.
func (r *ContractRepo) GetByID(ctx context.Context, id string) (*model.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`

	var c model.Contract
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		c, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Contract])
		return err
	})
	if err != nil {
		return nil, mapStoreError(err, fmt.Sprintf("contract %s not found", id))
	}
	return &c, nil
}

// ListActive returns every contract eligible for a request-all batch.
func (r *ContractRepo) ListActive(ctx context.Context) ([]*model.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts WHERE active ORDER BY id`

	var contracts []*model.Contract
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		contracts, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Contract])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list active contracts: %w", mapStoreError(err, "contracts not found"))
	}
	return contracts, nil
}
