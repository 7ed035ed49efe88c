package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Writer is the write surface of the store. It is implemented both by
// Store (auto-commit, one statement per upsert) and by the transaction-bound
// writer passed to WithinTx, so ingestion can apply a whole file atomically.
type Writer interface {
	// UpsertEntry inserts or merge-updates a knowledge entry.
	// Returns true when a new row was inserted, false on update.
	UpsertEntry(ctx context.Context, e Entry) (bool, error)

	// UpsertSchool inserts or merge-updates an academic school.
	UpsertSchool(ctx context.Context, s School) (bool, error)

	// UpsertProgram inserts or merge-updates a program keyed by code.
	UpsertProgram(ctx context.Context, p Program) (bool, error)

	// UpsertCourse inserts or merge-updates a course keyed by code.
	UpsertCourse(ctx context.Context, c Course) (bool, error)

	// UpsertAcademicInformation inserts or merge-updates an academic
	// information record keyed by title+category.
	UpsertAcademicInformation(ctx context.Context, ai AcademicInformation) (bool, error)
}

// dbtx is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists knowledge entries and academic records in PostgreSQL with
// pgvector similarity search. Upserts are atomic per record: readers see
// either the full old or full new row, never a partial write.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	w      writer
	logger *slog.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:   pool,
		w:      writer{db: pool},
		logger: logger,
	}
}

// WithinTx runs fn with a Writer bound to a single transaction.
// Ingestion uses one call per logical file: either every record from the
// file commits or none does.
func (s *Store) WithinTx(ctx context.Context, fn func(Writer) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if err := fn(&writer{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpsertEntry implements Writer in auto-commit mode.
func (s *Store) UpsertEntry(ctx context.Context, e Entry) (bool, error) {
	return s.w.UpsertEntry(ctx, e)
}

// UpsertSchool implements Writer in auto-commit mode.
func (s *Store) UpsertSchool(ctx context.Context, sc School) (bool, error) {
	return s.w.UpsertSchool(ctx, sc)
}

// UpsertProgram implements Writer in auto-commit mode.
func (s *Store) UpsertProgram(ctx context.Context, p Program) (bool, error) {
	return s.w.UpsertProgram(ctx, p)
}

// UpsertCourse implements Writer in auto-commit mode.
func (s *Store) UpsertCourse(ctx context.Context, c Course) (bool, error) {
	return s.w.UpsertCourse(ctx, c)
}

// UpsertAcademicInformation implements Writer in auto-commit mode.
func (s *Store) UpsertAcademicInformation(ctx context.Context, ai AcademicInformation) (bool, error) {
	return s.w.UpsertAcademicInformation(ctx, ai)
}

// GetEntry fetches a single entry by ID. Returns ErrNotFound if absent.
func (s *Store) GetEntry(ctx context.Context, id string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM knowledge_entries WHERE id = $1`, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("entry %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get entry %q: %w", id, err)
	}
	return e, nil
}

// GetProgram fetches a program by code. Returns ErrNotFound if absent.
func (s *Store) GetProgram(ctx context.Context, code string) (*Program, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT code, title, level, duration, delivery_mode, campus, description,
		       career_outcomes, entry_requirements, fees,
		       coordinator_name, coordinator_email, coordinator_phone,
		       structured_data, tags, school_id, source_url, is_active,
		       created_at, updated_at
		FROM programs WHERE code = $1`, code)

	var (
		p          Program
		structured []byte
	)
	err := row.Scan(&p.Code, &p.Title, &p.Level, &p.Duration, &p.DeliveryMode,
		&p.Campus, &p.Description, &p.CareerOutcomes, &p.EntryRequirements,
		&p.Fees, &p.CoordinatorName, &p.CoordinatorEmail, &p.CoordinatorPhone,
		&structured, &p.Tags, &p.SchoolID, &p.SourceURL, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("program %q: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get program %q: %w", code, err)
	}
	if len(structured) > 0 {
		if err := json.Unmarshal(structured, &p.StructuredData); err != nil {
			s.logger.Warn("malformed structured data", "code", p.Code, "error", err)
		}
	}
	return &p, nil
}

// SearchByEmbedding returns the top-k active embedded entries ordered by
// cosine distance to the query vector. Category is an optional filter
// (empty string = no filter).
func (s *Store) SearchByEmbedding(ctx context.Context, query []float32, k int32, category string) ([]Scored, error) {
	if len(query) != EmbeddingDimension {
		return nil, fmt.Errorf("query vector has %d dimensions: %w", len(query), ErrDimensionMismatch)
	}
	vec := pgvector.NewVector(query)

	sql := `
		SELECT ` + entryColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM knowledge_entries
		WHERE is_active AND embedding IS NOT NULL`
	args := []any{&vec}
	if category != "" {
		sql += ` AND category = $3`
		args = append(args, k, category)
	} else {
		args = append(args, k)
	}
	sql += ` ORDER BY embedding <=> $1 LIMIT $2`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []Scored
	for rows.Next() {
		var sim float32
		e, err := scanEntryWith(rows, &sim)
		if err != nil {
			return nil, fmt.Errorf("scan vector search row: %w", err)
		}
		results = append(results, Scored{Entry: *e, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search rows: %w", err)
	}
	return results, nil
}

// SearchLexical returns active entries matching any of the query terms
// (title or content, case-insensitive) or overlapping the given tags.
// Entries without embeddings are reachable only through this path.
func (s *Store) SearchLexical(ctx context.Context, terms, tags []string, limit int32) ([]Entry, error) {
	if len(terms) == 0 && len(tags) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM knowledge_entries
		WHERE is_active
		  AND (
			EXISTS (
				SELECT 1 FROM unnest($1::text[]) AS t(term)
				WHERE title ILIKE '%' || t.term || '%'
				   OR content ILIKE '%' || t.term || '%'
			)
			OR tags && $2::text[]
		  )
		ORDER BY priority DESC, updated_at DESC, id
		LIMIT $3`, terms, tags, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lexical search row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lexical search rows: %w", err)
	}
	return entries, nil
}

// ListMissingEmbeddings returns active entries with no current embedding
// that have not been flagged as failed. Content changes null the stored
// embedding on upsert, so stale entries reappear here automatically.
func (s *Store) ListMissingEmbeddings(ctx context.Context, limit int32) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM knowledge_entries
		WHERE is_active AND embedding IS NULL AND embedding_failed_at IS NULL
		ORDER BY priority DESC, updated_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list missing embeddings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list missing embeddings rows: %w", err)
	}
	return entries, nil
}

// SetEmbedding stores a freshly computed vector and clears any failure flag.
func (s *Store) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) != EmbeddingDimension {
		return fmt.Errorf("embedding for %q has %d dimensions: %w", id, len(embedding), ErrDimensionMismatch)
	}
	vec := pgvector.NewVector(embedding)
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_entries
		SET embedding = $2, embedding_failed_at = NULL, updated_at = now()
		WHERE id = $1`, id, &vec)
	if err != nil {
		return fmt.Errorf("set embedding for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entry %q: %w", id, ErrNotFound)
	}
	return nil
}

// MarkEmbeddingFailed flags an entry whose embedding attempts were exhausted.
// The entry stays active for lexical retrieval but is skipped by the next
// embedding run until its content changes again.
func (s *Store) MarkEmbeddingFailed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE knowledge_entries
		SET embedding_failed_at = now(), updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark embedding failed for %q: %w", id, err)
	}
	return nil
}

// DeactivateEntry excludes an entry from retrieval while retaining it
// for audit. Used for entries the provider rejects permanently.
func (s *Store) DeactivateEntry(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE knowledge_entries
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate entry %q: %w", id, err)
	}
	return nil
}

// CountEntries returns the number of stored entries, optionally restricted
// to active ones.
func (s *Store) CountEntries(ctx context.Context, activeOnly bool) (int64, error) {
	sql := `SELECT COUNT(*) FROM knowledge_entries`
	if activeOnly {
		sql += ` WHERE is_active`
	}
	var count int64
	if err := s.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// CountPendingEmbeddings returns the size of the embedding queue: active
// entries without a vector that are not flagged as failed.
func (s *Store) CountPendingEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM knowledge_entries
		WHERE is_active AND embedding IS NULL AND embedding_failed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending embeddings: %w", err)
	}
	return count, nil
}

// Close releases nothing: the pool is owned by the caller.
func (*Store) Close() error { return nil }

// ----------------------------------------------------------------------------
// Row scanning
// ----------------------------------------------------------------------------

const entryColumns = `id, title, content, source, category, subcategory, tags,
	priority, word_count, structured_data, embedding, is_active,
	last_updated, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	return scanEntryWith(row)
}

// scanEntryWith scans the fixed entry column set plus any trailing extras
// (e.g. a similarity column appended by vector search).
func scanEntryWith(row pgx.Row, extras ...any) (*Entry, error) {
	var (
		e          Entry
		structured []byte
		emb        *pgvector.Vector
	)
	dest := []any{
		&e.ID, &e.Title, &e.Content, &e.Source, &e.Category, &e.Subcategory,
		&e.Tags, &e.Priority, &e.WordCount, &structured, &emb, &e.IsActive,
		&e.LastUpdated, &e.CreatedAt, &e.UpdatedAt,
	}
	dest = append(dest, extras...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(structured) > 0 {
		if err := json.Unmarshal(structured, &e.StructuredData); err != nil {
			return nil, fmt.Errorf("unmarshal structured data for %q: %w", e.ID, err)
		}
	}
	if emb != nil {
		e.Embedding = emb.Slice()
	}
	return &e, nil
}

// ----------------------------------------------------------------------------
// Writer implementation (shared by pool and transaction)
// ----------------------------------------------------------------------------

type writer struct {
	db dbtx
}

func (w *writer) UpsertEntry(ctx context.Context, e Entry) (bool, error) {
	if e.ID == "" {
		return false, &MissingKeyError{RecordType: "entry"}
	}
	structured, err := marshalStructured(e.StructuredData)
	if err != nil {
		return false, fmt.Errorf("entry %q: %w", e.ID, err)
	}

	// Merge semantics: incoming zero values preserve stored ones. A content
	// change invalidates the stored embedding so the next embedding run
	// picks the entry up again.
	var inserted bool
	err = w.db.QueryRow(ctx, `
		INSERT INTO knowledge_entries
			(id, title, content, source, category, subcategory, tags, priority,
			 word_count, structured_data, embedding, is_active,
			 last_updated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE(NULLIF($8::int, 0), 5),
		        $9, $10, $11, $12, now(), now(), now())
		ON CONFLICT (id) DO UPDATE SET
			title       = COALESCE(NULLIF(EXCLUDED.title, ''), knowledge_entries.title),
			content     = COALESCE(NULLIF(EXCLUDED.content, ''), knowledge_entries.content),
			source      = COALESCE(NULLIF(EXCLUDED.source, ''), knowledge_entries.source),
			category    = COALESCE(NULLIF(EXCLUDED.category, ''), knowledge_entries.category),
			subcategory = COALESCE(NULLIF(EXCLUDED.subcategory, ''), knowledge_entries.subcategory),
			tags        = CASE WHEN cardinality(EXCLUDED.tags) = 0
			                   THEN knowledge_entries.tags ELSE EXCLUDED.tags END,
			priority    = COALESCE(NULLIF($8::int, 0), knowledge_entries.priority),
			word_count  = CASE WHEN NULLIF(EXCLUDED.content, '') IS NULL
			                   THEN knowledge_entries.word_count ELSE EXCLUDED.word_count END,
			structured_data = COALESCE(EXCLUDED.structured_data, knowledge_entries.structured_data),
			embedding   = CASE WHEN NULLIF(EXCLUDED.content, '') IS NOT NULL
			                    AND EXCLUDED.content IS DISTINCT FROM knowledge_entries.content
			                   THEN NULL ELSE knowledge_entries.embedding END,
			is_active   = EXCLUDED.is_active,
			last_updated = now(),
			updated_at   = now()
		RETURNING (xmax = 0)`,
		e.ID, e.Title, e.Content, e.Source, e.Category, e.Subcategory,
		tagsParam(e.Tags), e.Priority, CountWords(e.Content), structured,
		vecParam(e.Embedding), e.IsActive,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert entry %q: %w", e.ID, err)
	}
	return inserted, nil
}

func (w *writer) UpsertSchool(ctx context.Context, s School) (bool, error) {
	if s.ID == "" {
		return false, &MissingKeyError{RecordType: "school"}
	}
	var inserted bool
	err := w.db.QueryRow(ctx, `
		INSERT INTO schools
			(id, name, short_name, faculty, description, website, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name        = COALESCE(NULLIF(EXCLUDED.name, ''), schools.name),
			short_name  = COALESCE(NULLIF(EXCLUDED.short_name, ''), schools.short_name),
			faculty     = COALESCE(NULLIF(EXCLUDED.faculty, ''), schools.faculty),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), schools.description),
			website     = COALESCE(NULLIF(EXCLUDED.website, ''), schools.website),
			updated_at  = now()
		RETURNING (xmax = 0)`,
		s.ID, s.Name, s.ShortName, s.Faculty, s.Description, s.Website,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert school %q: %w", s.ID, err)
	}
	return inserted, nil
}

func (w *writer) UpsertProgram(ctx context.Context, p Program) (bool, error) {
	if p.Code == "" {
		return false, &MissingKeyError{RecordType: "program"}
	}
	if p.Level == "" {
		p.Level = InferProgramLevel(p.Code)
	}
	structured, err := marshalStructured(p.StructuredData)
	if err != nil {
		return false, fmt.Errorf("program %q: %w", p.Code, err)
	}

	var inserted bool
	err = w.db.QueryRow(ctx, `
		INSERT INTO programs
			(code, title, level, duration, delivery_mode, campus, description,
			 career_outcomes, entry_requirements, fees,
			 coordinator_name, coordinator_email, coordinator_phone,
			 structured_data, tags, school_id, source_url, embedding, is_active,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, now(), now())
		ON CONFLICT (code) DO UPDATE SET
			title              = COALESCE(NULLIF(EXCLUDED.title, ''), programs.title),
			level              = COALESCE(NULLIF(EXCLUDED.level, ''), programs.level),
			duration           = COALESCE(NULLIF(EXCLUDED.duration, ''), programs.duration),
			delivery_mode      = CASE WHEN cardinality(EXCLUDED.delivery_mode) = 0
			                          THEN programs.delivery_mode ELSE EXCLUDED.delivery_mode END,
			campus             = CASE WHEN cardinality(EXCLUDED.campus) = 0
			                          THEN programs.campus ELSE EXCLUDED.campus END,
			description        = COALESCE(NULLIF(EXCLUDED.description, ''), programs.description),
			career_outcomes    = COALESCE(NULLIF(EXCLUDED.career_outcomes, ''), programs.career_outcomes),
			entry_requirements = COALESCE(NULLIF(EXCLUDED.entry_requirements, ''), programs.entry_requirements),
			fees               = COALESCE(NULLIF(EXCLUDED.fees, ''), programs.fees),
			coordinator_name   = COALESCE(NULLIF(EXCLUDED.coordinator_name, ''), programs.coordinator_name),
			coordinator_email  = COALESCE(NULLIF(EXCLUDED.coordinator_email, ''), programs.coordinator_email),
			coordinator_phone  = COALESCE(NULLIF(EXCLUDED.coordinator_phone, ''), programs.coordinator_phone),
			structured_data    = COALESCE(EXCLUDED.structured_data, programs.structured_data),
			tags               = CASE WHEN cardinality(EXCLUDED.tags) = 0
			                          THEN programs.tags ELSE EXCLUDED.tags END,
			school_id          = COALESCE(EXCLUDED.school_id, programs.school_id),
			source_url         = COALESCE(NULLIF(EXCLUDED.source_url, ''), programs.source_url),
			embedding          = CASE WHEN NULLIF(EXCLUDED.description, '') IS NOT NULL
			                           AND EXCLUDED.description IS DISTINCT FROM programs.description
			                          THEN NULL ELSE programs.embedding END,
			is_active          = EXCLUDED.is_active,
			updated_at         = now()
		RETURNING (xmax = 0)`,
		p.Code, p.Title, p.Level, p.Duration, tagsParam(p.DeliveryMode),
		tagsParam(p.Campus), p.Description, p.CareerOutcomes,
		p.EntryRequirements, p.Fees, p.CoordinatorName, p.CoordinatorEmail,
		p.CoordinatorPhone, structured, tagsParam(p.Tags), p.SchoolID,
		p.SourceURL, vecParam(p.Embedding), p.IsActive,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert program %q: %w", p.Code, err)
	}
	return inserted, nil
}

func (w *writer) UpsertCourse(ctx context.Context, c Course) (bool, error) {
	if c.Code == "" {
		return false, &MissingKeyError{RecordType: "course"}
	}
	structured, err := marshalStructured(c.StructuredData)
	if err != nil {
		return false, fmt.Errorf("course %q: %w", c.Code, err)
	}

	var inserted bool
	err = w.db.QueryRow(ctx, `
		INSERT INTO courses
			(code, title, level, credit_points, delivery_mode, campus, description,
			 learning_outcomes, assessment_tasks, hurdle_requirement,
			 prerequisites, corequisites,
			 coordinator_name, coordinator_email, coordinator_phone,
			 structured_data, tags, school_id, source_url, embedding, is_active,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, now(), now())
		ON CONFLICT (code) DO UPDATE SET
			title              = COALESCE(NULLIF(EXCLUDED.title, ''), courses.title),
			level              = COALESCE(NULLIF(EXCLUDED.level, ''), courses.level),
			credit_points      = COALESCE(NULLIF(EXCLUDED.credit_points, 0), courses.credit_points),
			delivery_mode      = CASE WHEN cardinality(EXCLUDED.delivery_mode) = 0
			                          THEN courses.delivery_mode ELSE EXCLUDED.delivery_mode END,
			campus             = CASE WHEN cardinality(EXCLUDED.campus) = 0
			                          THEN courses.campus ELSE EXCLUDED.campus END,
			description        = COALESCE(NULLIF(EXCLUDED.description, ''), courses.description),
			learning_outcomes  = COALESCE(NULLIF(EXCLUDED.learning_outcomes, ''), courses.learning_outcomes),
			assessment_tasks   = COALESCE(NULLIF(EXCLUDED.assessment_tasks, ''), courses.assessment_tasks),
			hurdle_requirement = COALESCE(NULLIF(EXCLUDED.hurdle_requirement, ''), courses.hurdle_requirement),
			prerequisites      = COALESCE(NULLIF(EXCLUDED.prerequisites, ''), courses.prerequisites),
			corequisites       = COALESCE(NULLIF(EXCLUDED.corequisites, ''), courses.corequisites),
			coordinator_name   = COALESCE(NULLIF(EXCLUDED.coordinator_name, ''), courses.coordinator_name),
			coordinator_email  = COALESCE(NULLIF(EXCLUDED.coordinator_email, ''), courses.coordinator_email),
			coordinator_phone  = COALESCE(NULLIF(EXCLUDED.coordinator_phone, ''), courses.coordinator_phone),
			structured_data    = COALESCE(EXCLUDED.structured_data, courses.structured_data),
			tags               = CASE WHEN cardinality(EXCLUDED.tags) = 0
			                          THEN courses.tags ELSE EXCLUDED.tags END,
			school_id          = COALESCE(EXCLUDED.school_id, courses.school_id),
			source_url         = COALESCE(NULLIF(EXCLUDED.source_url, ''), courses.source_url),
			embedding          = CASE WHEN NULLIF(EXCLUDED.description, '') IS NOT NULL
			                           AND EXCLUDED.description IS DISTINCT FROM courses.description
			                          THEN NULL ELSE courses.embedding END,
			is_active          = EXCLUDED.is_active,
			updated_at         = now()
		RETURNING (xmax = 0)`,
		c.Code, c.Title, c.Level, c.CreditPoints, tagsParam(c.DeliveryMode),
		tagsParam(c.Campus), c.Description, c.LearningOutcomes,
		c.AssessmentTasks, c.HurdleRequirement, c.Prerequisites,
		c.Corequisites, c.CoordinatorName, c.CoordinatorEmail,
		c.CoordinatorPhone, structured, tagsParam(c.Tags), c.SchoolID,
		c.SourceURL, vecParam(c.Embedding), c.IsActive,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert course %q: %w", c.Code, err)
	}
	return inserted, nil
}

func (w *writer) UpsertAcademicInformation(ctx context.Context, ai AcademicInformation) (bool, error) {
	if ai.Title == "" || ai.Category == "" {
		return false, &MissingKeyError{RecordType: "academic-information"}
	}
	structured, err := marshalStructured(ai.StructuredData)
	if err != nil {
		return false, fmt.Errorf("academic information %q: %w", ai.Title, err)
	}

	var inserted bool
	err = w.db.QueryRow(ctx, `
		INSERT INTO academic_information
			(title, content, category, subcategory, tags, priority,
			 structured_data, source_url, embedding, is_active,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6::int, 0), 5),
		        $7, $8, $9, $10, now(), now())
		ON CONFLICT (title, category) DO UPDATE SET
			content         = COALESCE(NULLIF(EXCLUDED.content, ''), academic_information.content),
			subcategory     = COALESCE(NULLIF(EXCLUDED.subcategory, ''), academic_information.subcategory),
			tags            = CASE WHEN cardinality(EXCLUDED.tags) = 0
			                       THEN academic_information.tags ELSE EXCLUDED.tags END,
			priority        = COALESCE(NULLIF($6::int, 0), academic_information.priority),
			structured_data = COALESCE(EXCLUDED.structured_data, academic_information.structured_data),
			source_url      = COALESCE(NULLIF(EXCLUDED.source_url, ''), academic_information.source_url),
			embedding       = CASE WHEN NULLIF(EXCLUDED.content, '') IS NOT NULL
			                        AND EXCLUDED.content IS DISTINCT FROM academic_information.content
			                       THEN NULL ELSE academic_information.embedding END,
			is_active       = EXCLUDED.is_active,
			updated_at      = now()
		RETURNING (xmax = 0)`,
		ai.Title, ai.Content, ai.Category, ai.Subcategory, tagsParam(ai.Tags),
		ai.Priority, structured, ai.SourceURL, vecParam(ai.Embedding), ai.IsActive,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert academic information %q/%q: %w", ai.Title, ai.Category, err)
	}
	return inserted, nil
}

// tagsParam normalizes a nil slice to an empty array so the SQL cardinality
// checks behave uniformly.
func tagsParam(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// vecParam converts a float slice to a nullable pgvector parameter.
func vecParam(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func marshalStructured(data map[string]any) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal structured data: %w", err)
	}
	return b, nil
}
