// Package pgrepo provides PostgreSQL connection pool management with master/replica support.
//
// It implements the protocol.Lifecycle interface and offers graceful shutdown.
// Use Master() for write operations and Replica() for read operations.
//
// Example:
//
//	db, err := pgrepo.New(pgrepo.WithConfig(cfg.DB))
//	db.Start(ctx)
//
//	// Write
//	db.Master().Exec(ctx, "DELETE FROM items WHERE id = $1", id)
//
//	// Read
//	pgxscan.Select(ctx, db.Replica(ctx), &items, "SELECT * FROM items")
//
//	// Transaction: committed if fn returns nil, rolled back otherwise
//	err = pgrepo.WithTx(ctx, db, func(ctx context.Context, tx pgx.Tx) error {
//	    _, err := tx.Exec(ctx, "DELETE FROM items WHERE id = $1", id)
//	    return err
//	})
package pgrepo
