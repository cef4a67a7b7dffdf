// Package devseed populates a development database with a handful of carrier
// contracts so the dashboard has something to enqueue against.
package devseed

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/telbill/robo-ops/internal/data"
	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// seedContracts are stable ids so reseeding an existing dev database is a
// no-op rather than an accumulation.
var seedContracts = []model.Contract{
	{ID: "contract-dev-tn-01", ClientID: "client-acme", CarrierID: "carrier-tnord", Active: true},
	{ID: "contract-dev-tn-02", ClientID: "client-acme", CarrierID: "carrier-tsud", Active: true},
	{ID: "contract-dev-bx-01", ClientID: "client-bixby", CarrierID: "carrier-tnord", Active: true},
	{ID: "contract-dev-bx-02", ClientID: "client-bixby", CarrierID: "carrier-dormant", Active: false},
}

// Run inserts the development contracts, skipping any that already exist.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	contracts := data.NewContractRepo(db)

	created := 0
	for i := range seedContracts {
		c := seedContracts[i]
		if _, err := contracts.Create(ctx, &c); err != nil {
			if apperrors.IsConflict(err) {
				continue
			}
			return err
		}
		created++
	}

	if logger != nil {
		logger.InfoContext(ctx, "development contracts seeded",
			"created", created,
			"existing", len(seedContracts)-created)
	}
	return nil
}
