package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/price-discovery/internal/db"
	"github.com/sells-group/price-discovery/internal/geo"
	"github.com/sells-group/price-discovery/internal/model"
)

// PostgresStore implements Store on PostgreSQL with PostGIS, pgvector and
// pg_trgm.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_observation": insertObservationSQL,
	"find_inquiry_by_message_id": `SELECT ` + inquiryColumns + ` FROM inquiries
		WHERE message_id = ANY($1) ORDER BY sent_at DESC LIMIT 1`,
	"get_cached_page": `SELECT url, title, markdown, html, status_code FROM page_cache
		WHERE url = $1 AND expires_at > now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// EmbeddingDimensions is the width of the service type embedding column.
const EmbeddingDimensions = 1536

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS service_types (
	slug        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	embedding   vector(1536),
	embedded_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_service_types_name_trgm ON service_types USING gin (name gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_service_types_embedding ON service_types USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_service_types_category ON service_types(category);

CREATE TABLE IF NOT EXISTS providers (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	location   GEOGRAPHY(Point, 4326) NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_providers_location ON providers USING gist (location);
CREATE INDEX IF NOT EXISTS idx_providers_category ON providers(category);

CREATE TABLE IF NOT EXISTS observations (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider_id  TEXT NOT NULL REFERENCES providers(id),
	service_type TEXT NOT NULL REFERENCES service_types(slug),
	price        DOUBLE PRECISION NOT NULL CHECK (price > 0),
	currency     CHAR(3) NOT NULL,
	source_type  TEXT NOT NULL CHECK (source_type IN ('scrape', 'manual', 'receipt', 'quote', 'email_reply')),
	source_url   TEXT NOT NULL DEFAULT '',
	observed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_observations_service_provider ON observations(service_type, provider_id);

CREATE OR REPLACE FUNCTION observations_insert_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'observations are insert-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_observations_insert_only ON observations;
CREATE TRIGGER trg_observations_insert_only BEFORE UPDATE OR DELETE ON observations
	FOR EACH ROW EXECUTE FUNCTION observations_insert_only();

CREATE TABLE IF NOT EXISTS inquiries (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider_id      TEXT NOT NULL REFERENCES providers(id),
	service_type     TEXT NOT NULL,
	status           TEXT NOT NULL CHECK (status IN ('sent', 'replied', 'expired')),
	to_address       TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	message_id       TEXT NOT NULL UNIQUE,
	refs             TEXT[] NOT NULL DEFAULT '{}',
	reply_message_id TEXT NOT NULL DEFAULT '',
	sent_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	replied_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_inquiries_provider ON inquiries(provider_id, sent_at DESC);
CREATE INDEX IF NOT EXISTS idx_inquiries_status_sent ON inquiries(status, sent_at);

CREATE TABLE IF NOT EXISTS page_cache (
	url         TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	markdown    TEXT NOT NULL DEFAULT '',
	html        TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	cached_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_page_cache_expires_at ON page_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Catalog ---

func (s *PostgresStore) UpsertServiceTypes(ctx context.Context, types []model.ServiceType) error {
	rows := make([][]any, 0, len(types))
	for _, st := range types {
		rows = append(rows, []any{st.Slug, st.Name, st.Category, st.Description})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "service_types",
		Columns:      []string{"slug", "name", "category", "description"},
		ConflictKeys: []string{"slug"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert service types")
}

const serviceTypeColumns = `slug, name, category, description, embedded_at, created_at`

func scanServiceType(row pgx.Row) (*model.ServiceType, error) {
	var st model.ServiceType
	if err := row.Scan(&st.Slug, &st.Name, &st.Category, &st.Description, &st.EmbeddedAt, &st.CreatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) GetServiceType(ctx context.Context, slug string) (*model.ServiceType, error) {
	st, err := scanServiceType(s.pool.QueryRow(ctx,
		`SELECT `+serviceTypeColumns+` FROM service_types WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: service type %s", slug)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get service type %s", slug)
	}
	return st, nil
}

func (s *PostgresStore) ListServiceTypes(ctx context.Context) ([]model.ServiceType, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+serviceTypeColumns+` FROM service_types ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list service types")
	}
	defer rows.Close()

	var out []model.ServiceType
	for rows.Next() {
		st, err := scanServiceType(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan service type")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list service types iterate")
}

// ReplaceEmbedding swaps the vector in a single statement so readers never
// see a half-written embedding.
func (s *PostgresStore) ReplaceEmbedding(ctx context.Context, slug string, embedding []float32, at time.Time) error {
	if len(embedding) != EmbeddingDimensions {
		return eris.Errorf("postgres: embedding for %s has %d dimensions, want %d", slug, len(embedding), EmbeddingDimensions)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE service_types SET embedding = $2::vector, embedded_at = $3 WHERE slug = $1`,
		slug, vectorLiteral(embedding), at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: replace embedding %s", slug)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: service type %s", slug)
	}
	return nil
}

// vectorLiteral renders a pgvector text literal such as "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// --- Providers ---

func (s *PostgresStore) UpsertProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	loc, err := geo.EncodePoint(p.Location)
	if err != nil {
		return eris.Wrapf(err, "postgres: provider %s location", p.ID)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO providers (id, name, category, location, address, city, website, email)
		 VALUES ($1, $2, $3, ST_GeomFromEWKB($4)::geography, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET name = $2, category = $3, location = ST_GeomFromEWKB($4)::geography,
		 address = $5, city = $6, website = $7, email = $8`,
		p.ID, p.Name, p.Category, loc, p.Address, p.City, p.Website, p.Email,
	)
	return eris.Wrapf(err, "postgres: upsert provider %s", p.ID)
}

const providerColumns = `p.id, p.name, p.category, ST_Y(p.location::geometry), ST_X(p.location::geometry),
	p.address, p.city, p.website, p.email, p.created_at`

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	err := s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers p WHERE p.id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Category, &p.Location.Lat, &p.Location.Lng,
			&p.Address, &p.City, &p.Website, &p.Email, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: provider %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provider %s", id)
	}
	return &p, nil
}

// --- Matching ---

func (s *PostgresStore) MatchServiceTypesText(ctx context.Context, query string, limit int) ([]ScoredServiceType, error) {
	return s.scoredServiceTypes(ctx, "text",
		`SELECT `+serviceTypeColumns+`, similarity(name, $1) AS score
		 FROM service_types
		 WHERE similarity(name, $1) > 0
		 ORDER BY score DESC, slug
		 LIMIT $2`,
		query, limitOr(limit, DefaultMatchLimit))
}

func (s *PostgresStore) MatchServiceTypesVector(ctx context.Context, embedding []float32, limit int) ([]ScoredServiceType, error) {
	return s.scoredServiceTypes(ctx, "vector",
		`SELECT `+serviceTypeColumns+`, 1 - (embedding <=> $1::vector) AS score
		 FROM service_types
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector, slug
		 LIMIT $2`,
		vectorLiteral(embedding), limitOr(limit, DefaultMatchLimit))
}

func (s *PostgresStore) scoredServiceTypes(ctx context.Context, kind, sql string, args ...any) ([]ScoredServiceType, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s match", kind)
	}
	defer rows.Close()

	var out []ScoredServiceType
	for rows.Next() {
		var sc ScoredServiceType
		st := &sc.ServiceType
		if err := rows.Scan(&st.Slug, &st.Name, &st.Category, &st.Description, &st.EmbeddedAt, &st.CreatedAt, &sc.Score); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s match", kind)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: %s match iterate", kind)
	}
	sortScored(out)
	return out, nil
}

const geoPointSQL = `ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography`

func (s *PostgresStore) FindProvidersWithObservations(ctx context.Context, q GeoQuery) ([]ProviderMatch, error) {
	if len(q.Slugs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerColumns+`, ST_Distance(p.location, `+geoPointSQL+`) AS distance,
		 o.id, o.service_type, o.price, o.currency, o.source_type, o.source_url, o.observed_at
		 FROM providers p
		 JOIN observations o ON o.provider_id = p.id
		 WHERE o.service_type = ANY($1)
		   AND ST_DWithin(p.location, `+geoPointSQL+`, $4)
		 ORDER BY distance, p.id, o.observed_at DESC`,
		q.Slugs, q.Center.Lng, q.Center.Lat, q.RadiusMeters,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find providers with observations")
	}
	defer rows.Close()

	var joined []providerRow
	for rows.Next() {
		var r providerRow
		var o model.Observation
		p := &r.provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Location.Lat, &p.Location.Lng,
			&p.Address, &p.City, &p.Website, &p.Email, &p.CreatedAt, &r.distance,
			&o.ID, &o.ServiceType, &o.Price, &o.Currency, &o.SourceType, &o.SourceURL, &o.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider observation")
		}
		o.ProviderID = p.ID
		r.obs = &o
		joined = append(joined, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: find providers iterate")
	}
	return groupProviderRows(joined, limitOr(q.Limit, DefaultProviderLimit)), nil
}

func (s *PostgresStore) FindProvidersByCategory(ctx context.Context, q GeoQuery) ([]ProviderMatch, error) {
	if len(q.Categories) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerColumns+`, ST_Distance(p.location, `+geoPointSQL+`) AS distance
		 FROM providers p
		 WHERE p.category = ANY($1)
		   AND ST_DWithin(p.location, `+geoPointSQL+`, $4)
		 ORDER BY distance, p.id
		 LIMIT $5`,
		q.Categories, q.Center.Lng, q.Center.Lat, q.RadiusMeters, limitOr(q.Limit, DefaultProviderLimit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find providers by category")
	}
	defer rows.Close()

	var joined []providerRow
	for rows.Next() {
		var r providerRow
		p := &r.provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Location.Lat, &p.Location.Lng,
			&p.Address, &p.City, &p.Website, &p.Email, &p.CreatedAt, &r.distance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		joined = append(joined, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: find providers by category iterate")
	}
	return groupProviderRows(joined, limitOr(q.Limit, DefaultProviderLimit)), nil
}

// --- Observations ---

const insertObservationSQL = `INSERT INTO observations
	(id, provider_id, service_type, price, currency, source_type, source_url, observed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func prepareObservation(obs *model.Observation) error {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}
	return obs.Validate()
}

func observationArgs(obs *model.Observation) []any {
	return []any{obs.ID, obs.ProviderID, obs.ServiceType, obs.Price, obs.Currency,
		string(obs.SourceType), obs.SourceURL, obs.ObservedAt}
}

func (s *PostgresStore) InsertObservation(ctx context.Context, obs *model.Observation) error {
	if err := prepareObservation(obs); err != nil {
		return eris.Wrap(err, "postgres: insert observation")
	}
	_, err := s.pool.Exec(ctx, insertObservationSQL, observationArgs(obs)...)
	return eris.Wrapf(err, "postgres: insert observation %s", obs.ID)
}

var observationColumns = []string{"id", "provider_id", "service_type", "price", "currency", "source_type", "source_url", "observed_at"}

func (s *PostgresStore) ImportObservations(ctx context.Context, obs []model.Observation) (int64, error) {
	rows := make([][]any, 0, len(obs))
	for i := range obs {
		if err := prepareObservation(&obs[i]); err != nil {
			return 0, eris.Wrapf(err, "postgres: import observation %d", i)
		}
		rows = append(rows, observationArgs(&obs[i]))
	}
	n, err := db.CopyFrom(ctx, s.pool, "observations", observationColumns, rows)
	return n, eris.Wrap(err, "postgres: import observations")
}

// --- Inquiries ---

const inquiryColumns = `id, provider_id, service_type, status, to_address, subject, message_id,
	refs, reply_message_id, sent_at, replied_at`

func scanInquiry(row pgx.Row) (*model.Inquiry, error) {
	var inq model.Inquiry
	err := row.Scan(&inq.ID, &inq.ProviderID, &inq.ServiceType, &inq.Status, &inq.ToAddress,
		&inq.Subject, &inq.MessageID, &inq.References, &inq.ReplyMessageID, &inq.SentAt, &inq.RepliedAt)
	if err != nil {
		return nil, err
	}
	return &inq, nil
}

func (s *PostgresStore) CreateInquiry(ctx context.Context, inq *model.Inquiry) error {
	if inq.ID == "" {
		inq.ID = uuid.New().String()
	}
	if inq.SentAt.IsZero() {
		inq.SentAt = time.Now().UTC()
	}
	refs := inq.References
	if refs == nil {
		refs = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inquiries (id, provider_id, service_type, status, to_address, subject, message_id, refs, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inq.ID, inq.ProviderID, inq.ServiceType, string(inq.Status), inq.ToAddress, inq.Subject,
		inq.MessageID, refs, inq.SentAt,
	)
	return eris.Wrapf(err, "postgres: create inquiry %s", inq.ID)
}

// FindInquiryByMessageID returns the most recent inquiry whose Message-ID is
// one of messageIDs, or nil when none matches.
func (s *PostgresStore) FindInquiryByMessageID(ctx context.Context, messageIDs []string) (*model.Inquiry, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	inq, err := scanInquiry(s.pool.QueryRow(ctx,
		`SELECT `+inquiryColumns+` FROM inquiries WHERE message_id = ANY($1) ORDER BY sent_at DESC LIMIT 1`,
		messageIDs))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find inquiry by message id")
	}
	return inq, nil
}

func (s *PostgresStore) ListInquiries(ctx context.Context, providerID string) ([]model.Inquiry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+inquiryColumns+` FROM inquiries WHERE provider_id = $1 ORDER BY sent_at DESC`, providerID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list inquiries %s", providerID)
	}
	defer rows.Close()

	var out []model.Inquiry
	for rows.Next() {
		inq, err := scanInquiry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan inquiry")
		}
		out = append(out, *inq)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list inquiries iterate")
}

// RecordReply marks a sent inquiry replied and inserts the reply's price
// observation in one transaction. It returns false without writing anything
// when the inquiry is no longer in the sent state.
func (s *PostgresStore) RecordReply(ctx context.Context, inquiryID, replyMessageID string, at time.Time, obs *model.Observation) (bool, error) {
	if obs != nil {
		if err := prepareObservation(obs); err != nil {
			return false, eris.Wrap(err, "postgres: record reply")
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: record reply: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE inquiries SET status = $2, replied_at = $3, reply_message_id = $4
		 WHERE id = $1 AND status = $5`,
		inquiryID, string(model.InquiryReplied), at, replyMessageID, string(model.InquirySent),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: record reply %s", inquiryID)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if obs != nil {
		if _, err := tx.Exec(ctx, insertObservationSQL, observationArgs(obs)...); err != nil {
			return false, eris.Wrapf(err, "postgres: record reply observation %s", inquiryID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: record reply: commit")
	}
	return true, nil
}

func (s *PostgresStore) ExpireInquiries(ctx context.Context, sentBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inquiries SET status = $1 WHERE status = $2 AND sent_at < $3`,
		string(model.InquiryExpired), string(model.InquirySent), sentBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire inquiries")
	}
	return tag.RowsAffected(), nil
}

// --- Page cache ---

func (s *PostgresStore) GetCachedPage(ctx context.Context, url string) (*model.CrawledPage, error) {
	var p model.CrawledPage
	err := s.pool.QueryRow(ctx,
		`SELECT url, title, markdown, html, status_code FROM page_cache
		 WHERE url = $1 AND expires_at > now()`, url,
	).Scan(&p.URL, &p.Title, &p.Markdown, &p.HTML, &p.StatusCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached page")
	}
	return &p, nil
}

func (s *PostgresStore) SetCachedPage(ctx context.Context, page model.CrawledPage, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO page_cache (url, title, markdown, html, status_code, cached_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (url) DO UPDATE SET title = $2, markdown = $3, html = $4, status_code = $5,
		 cached_at = $6, expires_at = $7`,
		page.URL, page.Title, page.Markdown, page.HTML, page.StatusCode, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached page")
}

func (s *PostgresStore) DeleteExpiredPages(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM page_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired pages")
	}
	return tag.RowsAffected(), nil
}
