package analytics

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/marcboeker/go-duckdb"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

const (
	defaultDuckBatchSize = 64
	// defaultDuckMaxBuffered bounds the rows held while the database is unreachable.
	defaultDuckMaxBuffered = 16 * defaultDuckBatchSize
)

// DuckStore keeps events in a DuckDB table. Rows are buffered and written
// in batches through the appender.
type DuckStore struct {
	db          *sql.DB
	dbPath      string
	logger      *bolt.Logger
	batchSize   int
	maxBuffered int

	mu      sync.Mutex
	batch   []models.Event
	dropped int64
}

// NewDuckStore opens (or creates) the events database at dbPath.
// An empty path opens an in-memory database.
func NewDuckStore(dbPath string, threads int, logger *bolt.Logger) (*DuckStore, error) {
	if threads <= 0 {
		threads = 2
	}
	logger = logging.OrDefault(logger)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			ts        TIMESTAMP NOT NULL,
			name      VARCHAR NOT NULL,
			client_id VARCHAR,
			params    VARCHAR
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	logging.With(logger.Info(), logging.Component("analytics")).
		Str("path", dbPath).Msg("event store ready")

	return &DuckStore{
		db:          db,
		dbPath:      dbPath,
		logger:      logger,
		batchSize:   defaultDuckBatchSize,
		maxBuffered: defaultDuckMaxBuffered,
		batch:       make([]models.Event, 0, defaultDuckBatchSize),
	}, nil
}

// Write implements Sink. The row is buffered until the batch fills.
func (ds *DuckStore) Write(ctx context.Context, ev models.Event) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.batch = append(ds.batch, ev)
	if over := len(ds.batch) - ds.maxBuffered; over > 0 {
		ds.batch = append(ds.batch[:0], ds.batch[over:]...)
		ds.dropped += int64(over)
	}
	if len(ds.batch) < ds.batchSize {
		return nil
	}
	return ds.flushLocked(ctx)
}

// Flush writes any buffered events.
func (ds *DuckStore) Flush(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.flushLocked(ctx)
}

func (ds *DuckStore) flushLocked(ctx context.Context) error {
	if len(ds.batch) == 0 {
		return nil
	}

	conn, err := ds.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	// Once rows reach the appender they may be persisted even when a later
	// row fails, so the batch is never retried past that point.
	appending := false
	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "events")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()
		appending = true

		for i, ev := range ds.batch {
			params, err := json.Marshal(ev.Params)
			if err != nil {
				return fmt.Errorf("failed to encode params for row %d: %w", i, err)
			}
			if err := appender.AppendRow(ev.Timestamp, ev.Name, ev.ClientID, string(params)); err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		if appending {
			ds.dropped += int64(len(ds.batch))
			logging.With(ds.logger.Warn(), logging.Component("analytics"), logging.ErrorField(err)).
				Int("rows", len(ds.batch)).Msg("Dropped event batch after partial append")
			ds.batch = ds.batch[:0]
		}
		return fmt.Errorf("appender error: %w", err)
	}

	ds.batch = ds.batch[:0]
	return nil
}

// Dropped returns how many events were discarded after write failures.
func (ds *DuckStore) Dropped() int64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.dropped
}

// Recent returns up to limit events, newest first.
func (ds *DuckStore) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	if err := ds.Flush(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := ds.db.QueryContext(ctx,
		`SELECT ts, name, client_id, params FROM events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0, limit)
	for rows.Next() {
		var (
			ev       models.Event
			clientID sql.NullString
			params   sql.NullString
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Name, &clientID, &params); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ClientID = clientID.String
		if params.Valid && params.String != "" && params.String != "null" {
			if err := json.Unmarshal([]byte(params.String), &ev.Params); err != nil {
				return nil, fmt.Errorf("decode params: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Counts returns the number of events per name, most frequent first.
func (ds *DuckStore) Counts(ctx context.Context) ([]models.EventCount, error) {
	if err := ds.Flush(ctx); err != nil {
		return nil, err
	}

	rows, err := ds.db.QueryContext(ctx,
		`SELECT name, COUNT(*) AS n FROM events GROUP BY name ORDER BY n DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	var counts []models.EventCount
	for rows.Next() {
		var c models.EventCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Close flushes pending rows and closes the database. The file is kept.
func (ds *DuckStore) Close() error {
	flushErr := ds.Flush(context.Background())
	if ds.db != nil {
		if err := ds.db.Close(); err != nil {
			return err
		}
	}
	return flushErr
}
