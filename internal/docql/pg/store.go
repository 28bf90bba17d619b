package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlekbai/docql/internal/docql"
)

const bootstrapSQL = `
CREATE SCHEMA IF NOT EXISTS docql;
CREATE TABLE IF NOT EXISTS docql.collections (
	name text PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS docql.documents (
	collection  text        NOT NULL REFERENCES docql.collections (name),
	id          text        NOT NULL,
	data        jsonb       NOT NULL DEFAULT '{}'::jsonb,
	revision_id text        NOT NULL,
	sequence    bigserial,
	expiration  timestamptz,
	deleted     boolean     NOT NULL DEFAULT false,
	PRIMARY KEY (collection, id)
);
`

// Store executes query plans and document writes against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Bootstrap creates the docql schema if it does not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, bootstrapSQL); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// RunQuery executes plan and returns shaped rows.
func (s *Store) RunQuery(ctx context.Context, plan *docql.QueryPlan, params map[string]any) ([]map[string]any, error) {
	sqlStr, args, err := Translate(plan, params)
	if err != nil {
		return nil, fmt.Errorf("translate plan: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	return plan.Shape(result), nil
}

// scanRows reads every row into a map keyed by column name.
func scanRows(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Estimate returns the planner's row estimate and the raw JSON plan.
func (s *Store) Estimate(ctx context.Context, plan *docql.QueryPlan, params map[string]any) (int64, json.RawMessage, error) {
	sqlStr, args, err := Translate(plan, params)
	if err != nil {
		return 0, nil, fmt.Errorf("translate plan: %w", err)
	}

	var planJSON string
	if err := s.pool.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+sqlStr, args...).Scan(&planJSON); err != nil {
		return 0, nil, fmt.Errorf("explain estimate: %w", err)
	}
	return parsePlanRows(planJSON), json.RawMessage(planJSON), nil
}

// Count returns the exact number of rows plan matches, ignoring its window
// and ordering.
func (s *Store) Count(ctx context.Context, plan *docql.QueryPlan, params map[string]any) (int64, error) {
	unbounded := *plan
	unbounded.Window = nil
	unbounded.OrderBy = nil

	sqlStr, args, err := Translate(&unbounded, params)
	if err != nil {
		return 0, fmt.Errorf("translate plan: %w", err)
	}

	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM ("+sqlStr+") AS counted", args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func parsePlanRows(planJSON string) int64 {
	var plan []struct {
		Plan struct {
			PlanRows float64 `json:"Plan Rows"`
		} `json:"Plan"`
	}
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil || len(plan) == 0 {
		return 0
	}
	return int64(plan[0].Plan.PlanRows)
}

// --- Documents ---

const upsertSQL = `
INSERT INTO docql.documents (collection, id, data, revision_id, deleted)
VALUES ($1, $2, $3, $4, false)
ON CONFLICT (collection, id) DO UPDATE
SET data = EXCLUDED.data, revision_id = EXCLUDED.revision_id, deleted = false,
    sequence = nextval(pg_get_serial_sequence('docql.documents', 'sequence'))
`

// SaveDocuments upserts docs into collection in one transaction. Each
// document runs under its own savepoint; a failing document is rolled back
// and reported in the result while the rest of the batch commits.
func (s *Store) SaveDocuments(ctx context.Context, collection string, docs []docql.PendingDocument) (*docql.SaveResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO docql.collections (name) VALUES ($1) ON CONFLICT DO NOTHING`, collection,
	); err != nil {
		return nil, fmt.Errorf("register collection: %w", err)
	}

	result := saveBatch(collection, docs, func(id string, body docql.Document) error {
		return saveOne(ctx, tx, collection, id, body)
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// saveBatch assigns missing ids and runs save for each document. Failures
// carry the id the document was saved under, generated or not.
func saveBatch(collection string, docs []docql.PendingDocument, save func(id string, body docql.Document) error) *docql.SaveResult {
	result := &docql.SaveResult{DocumentIDs: []string{}}
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		if err := save(id, doc.Body); err != nil {
			log.Printf("save %s/%s: %v", collection, id, err)
			result.Errors = append(result.Errors, docql.DocumentError{Index: i, ID: id, Message: err.Error()})
			continue
		}
		result.DocumentIDs = append(result.DocumentIDs, id)
	}
	return result
}

func saveOne(ctx context.Context, tx pgx.Tx, collection, id string, body docql.Document) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if _, err := sp.Exec(ctx, upsertSQL, collection, id, string(data), uuid.NewString()); err != nil {
		sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// GetDocument returns the body of a live document with its id merged in.
func (s *Store) GetDocument(ctx context.Context, ref docql.DocumentRef) (map[string]any, bool, error) {
	var data map[string]any
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM docql.documents WHERE collection = $1 AND id = $2 AND deleted = false`,
		ref.Collection, ref.ID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get document: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	data["id"] = ref.ID
	return data, true, nil
}

// DeleteDocument marks a document deleted. Missing documents are ignored.
func (s *Store) DeleteDocument(ctx context.Context, ref docql.DocumentRef) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE docql.documents
		 SET deleted = true, revision_id = $3,
		     sequence = nextval(pg_get_serial_sequence('docql.documents', 'sequence'))
		 WHERE collection = $1 AND id = $2 AND deleted = false`,
		ref.Collection, ref.ID, uuid.NewString(),
	)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// PurgeDocument removes a document row entirely.
func (s *Store) PurgeDocument(ctx context.Context, ref docql.DocumentRef) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM docql.documents WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID,
	); err != nil {
		return fmt.Errorf("purge document: %w", err)
	}
	return nil
}

// --- Indexes ---

// IndexName is the Postgres index name for a named value index on collection.
func IndexName(collection, name string) string {
	return collection + "_" + name
}

// IndexDDL builds the CREATE INDEX statement for spec: an expression index
// over the indexed fields, partial on the index's collection.
func IndexDDL(spec docql.IndexSpec) string {
	exprs := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		exprs[i] = fmt.Sprintf(`(data #> %s)`, QuoteLit(textArray(strings.Split(f, "."))))
	}
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s) WHERE collection = %s`,
		QI(IndexName(spec.Collection, spec.Name)), DocumentsTable, strings.Join(exprs, ", "), QuoteLit(spec.Collection))
}

func (s *Store) CreateIndex(ctx context.Context, spec docql.IndexSpec) error {
	if _, err := s.pool.Exec(ctx, IndexDDL(spec)); err != nil {
		return fmt.Errorf("create index %s: %w", spec.Name, err)
	}
	return nil
}

func (s *Store) DeleteIndex(ctx context.Context, collection, name string) error {
	ddl := fmt.Sprintf(`DROP INDEX IF EXISTS %s.%s`, QI(Schema), QI(IndexName(collection, name)))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	return nil
}
