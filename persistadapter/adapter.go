// Package persistadapter is the persistence adapter (C3): it owns the
// internal _tsdb_collection/_tsdb_index metadata tables and, per
// collection, a rows table and a tombstone table named deterministically by
// keycodec. Callers never see SQL; they see LoadSubset/ApplyCommittedTx/
// EnsureIndex/MarkIndexRemoved/PullSince.
package persistadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/tanstack/db-sqlite-persist/errtag"
	"github.com/tanstack/db-sqlite-persist/keycodec"
	"github.com/tanstack/db-sqlite-persist/log"
	"github.com/tanstack/db-sqlite-persist/sqlitedriver"
)

// TombstoneRetentionRowVersions bounds how many row-version generations of
// tombstones PullSince can answer from without forcing a full reload. A
// caller asking for changes since a row version older than
// latestRowVersion - TombstoneRetentionRowVersions gets
// PullSinceResult.RequiresFullReload instead of a delta. The adapter never
// deletes tombstones outside a collection reset, so this is a fixed
// row-version budget rather than a storage limit.
const TombstoneRetentionRowVersions = 10_000

// Option configures an Adapter.
type Option func(*options)

type options struct {
	logger log.Logger
}

// WithLogger overrides the adapter's logger. Defaults to a no-op logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Adapter is the persistence adapter over a single SQLite database. One
// Adapter serves every collection stored in that database; the internal
// metadata tables are bootstrapped once, lazily, on first use.
type Adapter struct {
	driver sqlitedriver.Driver
	log    log.Logger

	bootstrapped bool
}

// New constructs an Adapter over driver. The internal metadata schema isn't
// created until the first public method call (each one starts with
// ensureBootstrapped), so constructing an Adapter never touches the database.
func New(driver sqlitedriver.Driver, opts ...Option) *Adapter {
	o := options{logger: log.NewLogger(log.WithNop())}
	for _, opt := range opts {
		opt(&o)
	}
	return &Adapter{driver: driver, log: o.logger}
}

// Bootstrap creates the adapter's internal metadata schema if it doesn't
// already exist. Callers never need to invoke it directly - every other
// method calls it lazily - but tooling that wants to migrate a database
// ahead of serving traffic (tsdbctl migrate) can call it explicitly.
func (a *Adapter) Bootstrap(ctx context.Context) error {
	return a.ensureBootstrapped(ctx)
}

func (a *Adapter) ensureBootstrapped(ctx context.Context) error {
	if a.bootstrapped {
		return nil
	}
	if err := bootstrap(ctx, a.driver); err != nil {
		return err
	}
	a.bootstrapped = true
	return nil
}

// getOrCreateCollection loads the collection's metadata record, creating it
// (and its rows/tombstone tables) on first reference, or enforcing policy
// if schemaVersion disagrees with what's on record.
func (a *Adapter) getOrCreateCollection(
	ctx context.Context, tx sqlitedriver.Driver, collectionID string, schemaVersion int, policy Policy,
) (collectionRecord, error) {
	rec, found, err := a.queryCollection(ctx, tx, collectionID)
	if err != nil {
		return collectionRecord{}, err
	}

	now := time.Now().UnixMilli()

	if !found {
		rec = collectionRecord{
			CollectionID:  collectionID,
			SchemaVersion: schemaVersion,
			Term:          1,
			RowsTable:     keycodec.TableName(collectionID, keycodec.KindRows),
			TombTable:     keycodec.TableName(collectionID, keycodec.KindTombstone),
		}
		if err = a.createCollectionTables(ctx, tx, rec); err != nil {
			return collectionRecord{}, err
		}
		if _, err = tx.Run(ctx,
			`INSERT INTO _tsdb_collection
			 (collection_id, schema_version, term, last_seq, last_row_version, rows_table, tomb_table, created_at, updated_at)
			 VALUES (?, ?, ?, 0, 0, ?, ?, ?, ?)`,
			rec.CollectionID, rec.SchemaVersion, rec.Term, rec.RowsTable, rec.TombTable, now, now,
		); err != nil {
			return collectionRecord{}, wrapStorageErr(err)
		}
		return rec, nil
	}

	if rec.SchemaVersion == schemaVersion {
		return rec, nil
	}

	switch policy {
	case PolicySyncPresentReset, PolicyReset:
		a.log.Warn("persistadapter: resetting collection on schema mismatch",
			"collectionId", collectionID, "fromVersion", rec.SchemaVersion, "toVersion", schemaVersion)
		if err = a.resetCollection(ctx, tx, rec, schemaVersion); err != nil {
			return collectionRecord{}, err
		}
		rec.SchemaVersion = schemaVersion
		rec.Term++
		rec.LastSeq, rec.LastRowVersion = 0, 0
		return rec, nil
	default: // PolicySyncAbsentError and any unrecognised policy fail closed.
		return collectionRecord{}, errtag.Tag[errtag.SchemaMismatch](
			fmt.Errorf("collection %q has schema_version %d, caller requested %d", collectionID, rec.SchemaVersion, schemaVersion),
			errtag.WithMsg("PersistedCollectionSchemaMismatchError"),
		)
	}
}

func (a *Adapter) queryCollection(ctx context.Context, tx sqlitedriver.Driver, collectionID string) (collectionRecord, bool, error) {
	rows, err := tx.Query(ctx,
		`SELECT collection_id, schema_version, term, last_seq, last_row_version, rows_table, tomb_table
		 FROM _tsdb_collection WHERE collection_id = ?`, collectionID)
	if err != nil {
		return collectionRecord{}, false, wrapStorageErr(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return collectionRecord{}, false, wrapStorageErr(rows.Err())
	}
	var rec collectionRecord
	if err = rows.Scan(&rec.CollectionID, &rec.SchemaVersion, &rec.Term, &rec.LastSeq, &rec.LastRowVersion, &rec.RowsTable, &rec.TombTable); err != nil {
		return collectionRecord{}, false, wrapStorageErr(err)
	}
	return rec, true, nil
}

func (a *Adapter) createCollectionTables(ctx context.Context, tx sqlitedriver.Driver, rec collectionRecord) error {
	if err := tx.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			row_version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`, rec.RowsTable)); err != nil {
		return wrapStorageErr(err)
	}
	if err := tx.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			deleted_at_row_version INTEGER NOT NULL,
			deleted_at INTEGER NOT NULL
		)`, rec.TombTable)); err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

func (a *Adapter) resetCollection(ctx context.Context, tx sqlitedriver.Driver, rec collectionRecord, schemaVersion int) error {
	if err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", rec.RowsTable)); err != nil {
		return wrapStorageErr(err)
	}
	if err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", rec.TombTable)); err != nil {
		return wrapStorageErr(err)
	}
	if _, err := tx.Run(ctx,
		`UPDATE _tsdb_collection
		 SET schema_version = ?, term = term + 1, last_seq = 0, last_row_version = 0, updated_at = ?
		 WHERE collection_id = ?`,
		schemaVersion, time.Now().UnixMilli(), rec.CollectionID,
	); err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

// LoadSubset evaluates opts against collectionID's rows table. A probe call
// (opts.Limit pointing at 0, per the wire contract's limit=0 shape) runs
// schema enforcement and table creation without materialising any rows -
// used by callers that only need to know whether the collection is usable
// under the given schema/policy.
func (a *Adapter) LoadSubset(
	ctx context.Context, collectionID string, schemaVersion int, policy Policy, opts LoadOptions,
) ([]Row, error) {
	if err := a.ensureBootstrapped(ctx); err != nil {
		return nil, err
	}

	var result []Row
	err := a.driver.Transaction(ctx, func(ctx context.Context, tx sqlitedriver.Driver) error {
		rec, err := a.getOrCreateCollection(ctx, tx, collectionID, schemaVersion, policy)
		if err != nil {
			return err
		}
		if opts.IsProbe() {
			return nil
		}

		query, args := buildLoadQuery(rec.RowsTable, opts)
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return wrapStorageErr(err)
		}
		defer rows.Close()

		for rows.Next() {
			var keyEncoded, value string
			var rowVersion int64
			if err = rows.Scan(&keyEncoded, &value, &rowVersion); err != nil {
				return wrapStorageErr(err)
			}
			key, err := keycodec.Decode(keyEncoded)
			if err != nil {
				return err
			}
			result = append(result, Row{Key: key, Value: []byte(value), RowVersion: rowVersion})
		}
		return wrapStorageErr(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyCommittedTx applies every mutation in txn to collectionID inside a
// single driver transaction. A stale or duplicate (term, seq) - one that
// does not advance the collection's ordering position - is a silent no-op:
// replays of an already-applied transaction must not double-apply.
func (a *Adapter) ApplyCommittedTx(
	ctx context.Context, collectionID string, schemaVersion int, policy Policy, txn CommittedTx,
) error {
	if err := a.ensureBootstrapped(ctx); err != nil {
		return err
	}

	return a.driver.Transaction(ctx, func(ctx context.Context, tx sqlitedriver.Driver) error {
		rec, err := a.getOrCreateCollection(ctx, tx, collectionID, schemaVersion, policy)
		if err != nil {
			return err
		}

		if txn.Term < rec.Term || (txn.Term == rec.Term && txn.Seq <= rec.LastSeq) {
			a.log.Info("persistadapter: ignoring stale or duplicate transaction",
				"collectionId", collectionID, "txId", txn.TxID, "term", txn.Term, "seq", txn.Seq,
				"collectionTerm", rec.Term, "collectionLastSeq", rec.LastSeq)
			return nil
		}

		now := time.Now().UnixMilli()
		for _, m := range txn.Mutations {
			keyEncoded, err := keycodec.Encode(m.Key)
			if err != nil {
				return err
			}
			switch m.Type {
			case MutationUpsert:
				if _, err = tx.Run(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", rec.TombTable), keyEncoded); err != nil {
					return wrapStorageErr(err)
				}
				if _, err = tx.Run(ctx, fmt.Sprintf(
					`INSERT INTO %s (key, value, row_version, updated_at) VALUES (?, ?, ?, ?)
					 ON CONFLICT(key) DO UPDATE SET value = excluded.value, row_version = excluded.row_version, updated_at = excluded.updated_at`,
					rec.RowsTable), keyEncoded, string(m.Value), txn.RowVersion, now); err != nil {
					return wrapStorageErr(err)
				}
			case MutationDelete:
				if _, err = tx.Run(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", rec.RowsTable), keyEncoded); err != nil {
					return wrapStorageErr(err)
				}
				if _, err = tx.Run(ctx, fmt.Sprintf(
					`INSERT INTO %s (key, deleted_at_row_version, deleted_at) VALUES (?, ?, ?)
					 ON CONFLICT(key) DO UPDATE SET deleted_at_row_version = excluded.deleted_at_row_version, deleted_at = excluded.deleted_at`,
					rec.TombTable), keyEncoded, txn.RowVersion, now); err != nil {
					return wrapStorageErr(err)
				}
			default:
				return errtag.Tag[errtag.Configuration](fmt.Errorf("unknown mutation type %q", m.Type))
			}
		}

		lastRowVersion := rec.LastRowVersion
		if txn.RowVersion > lastRowVersion {
			lastRowVersion = txn.RowVersion
		}
		if _, err = tx.Run(ctx,
			`UPDATE _tsdb_collection SET term = ?, last_seq = ?, last_row_version = ?, updated_at = ? WHERE collection_id = ?`,
			txn.Term, txn.Seq, lastRowVersion, now, collectionID,
		); err != nil {
			return wrapStorageErr(err)
		}
		return nil
	})
}

// EnsureIndex creates (or reactivates) the physical index backing spec for
// collectionID, idempotently.
func (a *Adapter) EnsureIndex(ctx context.Context, collectionID string, schemaVersion int, policy Policy, spec IndexSpec) error {
	if err := a.ensureBootstrapped(ctx); err != nil {
		return err
	}
	signature := spec.Signature()

	return a.driver.Transaction(ctx, func(ctx context.Context, tx sqlitedriver.Driver) error {
		rec, err := a.getOrCreateCollection(ctx, tx, collectionID, schemaVersion, policy)
		if err != nil {
			return err
		}

		specJSON, err := marshalIndexSpec(spec)
		if err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		if _, err = tx.Run(ctx,
			`INSERT INTO _tsdb_index (collection_id, signature, spec, state, created_at) VALUES (?, ?, ?, 'active', ?)
			 ON CONFLICT(collection_id, signature) DO UPDATE SET state = 'active'`,
			collectionID, signature, specJSON, now,
		); err != nil {
			return wrapStorageErr(err)
		}
		if err = tx.Exec(ctx, createIndexDDL(rec.RowsTable, signature, spec)); err != nil {
			return wrapStorageErr(err)
		}
		return nil
	})
}

// MarkIndexRemoved drops the physical index for spec and marks it removed
// in _tsdb_index. Idempotent: removing an index that was never created, or
// already removed, is a no-op.
func (a *Adapter) MarkIndexRemoved(ctx context.Context, collectionID string, schemaVersion int, policy Policy, spec IndexSpec) error {
	if err := a.ensureBootstrapped(ctx); err != nil {
		return err
	}
	signature := spec.Signature()

	return a.driver.Transaction(ctx, func(ctx context.Context, tx sqlitedriver.Driver) error {
		rec, err := a.getOrCreateCollection(ctx, tx, collectionID, schemaVersion, policy)
		if err != nil {
			return err
		}
		if err = tx.Exec(ctx, dropIndexDDL(rec.RowsTable, signature)); err != nil {
			return wrapStorageErr(err)
		}
		if _, err = tx.Run(ctx,
			`UPDATE _tsdb_index SET state = 'removed' WHERE collection_id = ? AND signature = ?`,
			collectionID, signature,
		); err != nil {
			return wrapStorageErr(err)
		}
		return nil
	})
}

// PullSince reports which keys changed or were deleted in collectionID
// after fromRowVersion. RequiresFullReload is set when fromRowVersion
// predates what the retained tombstones can answer for, or the collection's
// term has advanced past expectedTerm (a reset happened).
func (a *Adapter) PullSince(ctx context.Context, collectionID string, expectedTerm, fromRowVersion int64) (PullSinceResult, error) {
	if err := a.ensureBootstrapped(ctx); err != nil {
		return PullSinceResult{}, err
	}

	var result PullSinceResult
	err := a.driver.Transaction(ctx, func(ctx context.Context, tx sqlitedriver.Driver) error {
		rec, found, err := a.queryCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if !found {
			result = PullSinceResult{RequiresFullReload: true}
			return nil
		}

		result.LatestRowVersion = rec.LastRowVersion
		result.Term = rec.Term

		if rec.Term != expectedTerm || rec.LastRowVersion-fromRowVersion > TombstoneRetentionRowVersions {
			result.RequiresFullReload = true
			return nil
		}

		changed, err := a.collectKeys(ctx, tx, fmt.Sprintf(
			"SELECT key FROM %s WHERE row_version > ?", rec.RowsTable), fromRowVersion)
		if err != nil {
			return err
		}
		result.ChangedKeys = changed

		deleted, err := a.collectKeys(ctx, tx, fmt.Sprintf(
			"SELECT key FROM %s WHERE deleted_at_row_version > ?", rec.TombTable), fromRowVersion)
		if err != nil {
			return err
		}
		result.DeletedKeys = deleted
		return nil
	})
	if err != nil {
		return PullSinceResult{}, err
	}
	return result, nil
}

func (a *Adapter) collectKeys(ctx context.Context, tx sqlitedriver.Driver, query string, args ...any) ([]any, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer rows.Close()

	var keys []any
	for rows.Next() {
		var keyEncoded string
		if err = rows.Scan(&keyEncoded); err != nil {
			return nil, wrapStorageErr(err)
		}
		key, err := keycodec.Decode(keyEncoded)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, wrapStorageErr(rows.Err())
}

// ListCollections returns metadata for every collection the adapter has
// ever created, for diagnostic tooling.
func (a *Adapter) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	if err := a.ensureBootstrapped(ctx); err != nil {
		return nil, err
	}

	var infos []CollectionInfo
	err := a.driver.Transaction(ctx, func(ctx context.Context, tx sqlitedriver.Driver) error {
		rows, err := tx.Query(ctx,
			`SELECT collection_id, schema_version, term, last_seq, last_row_version, rows_table, tomb_table
			 FROM _tsdb_collection ORDER BY collection_id`)
		if err != nil {
			return wrapStorageErr(err)
		}
		defer rows.Close()

		for rows.Next() {
			var info CollectionInfo
			if err = rows.Scan(&info.CollectionID, &info.SchemaVersion, &info.Term, &info.LastSeq, &info.LastRowVersion, &info.RowsTable, &info.TombTable); err != nil {
				return wrapStorageErr(err)
			}
			infos = append(infos, info)
		}
		return wrapStorageErr(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// ListIndexes returns every index ever registered against collectionID,
// active or removed.
func (a *Adapter) ListIndexes(ctx context.Context, collectionID string) ([]IndexInfo, error) {
	if err := a.ensureBootstrapped(ctx); err != nil {
		return nil, err
	}

	var infos []IndexInfo
	err := a.driver.Transaction(ctx, func(ctx context.Context, tx sqlitedriver.Driver) error {
		rows, err := tx.Query(ctx,
			`SELECT collection_id, signature, spec, state FROM _tsdb_index WHERE collection_id = ? ORDER BY signature`,
			collectionID)
		if err != nil {
			return wrapStorageErr(err)
		}
		defer rows.Close()

		for rows.Next() {
			var info IndexInfo
			var specJSON string
			if err = rows.Scan(&info.CollectionID, &info.Signature, &specJSON, &info.State); err != nil {
				return wrapStorageErr(err)
			}
			if info.Spec, err = unmarshalIndexSpec(specJSON); err != nil {
				return err
			}
			infos = append(infos, info)
		}
		return wrapStorageErr(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errtag.HasTag[errtag.Driver](err) {
		return err
	}
	return errtag.Tag[errtag.Driver](err)
}
