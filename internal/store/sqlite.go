package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/price-discovery/internal/geo"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/textsim"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geo, trigram and
// vector scoring run in Go, which is fine at development-fixture scale.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS service_types (
	slug        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	embedding   TEXT,
	embedded_at DATETIME,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS providers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	lat        REAL NOT NULL,
	lng        REAL NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_providers_category ON providers(category);

CREATE TABLE IF NOT EXISTS observations (
	id           TEXT PRIMARY KEY,
	provider_id  TEXT NOT NULL REFERENCES providers(id),
	service_type TEXT NOT NULL REFERENCES service_types(slug),
	price        REAL NOT NULL CHECK (price > 0),
	currency     TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	observed_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_service_provider ON observations(service_type, provider_id);

CREATE TRIGGER IF NOT EXISTS trg_observations_no_update BEFORE UPDATE ON observations
BEGIN SELECT RAISE(ABORT, 'observations are insert-only'); END;
CREATE TRIGGER IF NOT EXISTS trg_observations_no_delete BEFORE DELETE ON observations
BEGIN SELECT RAISE(ABORT, 'observations are insert-only'); END;

CREATE TABLE IF NOT EXISTS inquiries (
	id               TEXT PRIMARY KEY,
	provider_id      TEXT NOT NULL REFERENCES providers(id),
	service_type     TEXT NOT NULL,
	status           TEXT NOT NULL,
	to_address       TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	message_id       TEXT NOT NULL UNIQUE,
	refs             TEXT NOT NULL DEFAULT '[]',
	reply_message_id TEXT NOT NULL DEFAULT '',
	sent_at          DATETIME NOT NULL,
	replied_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_inquiries_provider ON inquiries(provider_id);
CREATE INDEX IF NOT EXISTS idx_inquiries_status ON inquiries(status);

CREATE TABLE IF NOT EXISTS page_cache (
	url         TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	markdown    TEXT NOT NULL DEFAULT '',
	html        TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	expires_at  INTEGER NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *SQLiteStore) UpsertServiceTypes(ctx context.Context, types []model.ServiceType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert service types: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, st := range types {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO service_types (slug, name, category, description, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (slug) DO UPDATE SET name = excluded.name, category = excluded.category,
			 description = excluded.description`,
			st.Slug, st.Name, st.Category, st.Description, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert service type %s", st.Slug)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: upsert service types: commit")
}

const sqliteServiceTypeColumns = `slug, name, category, description, embedding, embedded_at, created_at`

func scanSQLiteServiceType(row scannable) (*model.ServiceType, error) {
	var st model.ServiceType
	var embedding sql.NullString
	var embeddedAt sql.NullTime
	if err := row.Scan(&st.Slug, &st.Name, &st.Category, &st.Description, &embedding, &embeddedAt, &st.CreatedAt); err != nil {
		return nil, err
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &st.Embedding); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode embedding %s", st.Slug)
		}
	}
	if embeddedAt.Valid {
		t := embeddedAt.Time
		st.EmbeddedAt = &t
	}
	return &st, nil
}

func (s *SQLiteStore) GetServiceType(ctx context.Context, slug string) (*model.ServiceType, error) {
	st, err := scanSQLiteServiceType(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteServiceTypeColumns+` FROM service_types WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: service type %s", slug)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get service type %s", slug)
	}
	return st, nil
}

func (s *SQLiteStore) ListServiceTypes(ctx context.Context) ([]model.ServiceType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteServiceTypeColumns+` FROM service_types ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list service types")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ServiceType
	for rows.Next() {
		st, err := scanSQLiteServiceType(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan service type")
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list service types iterate")
}

func (s *SQLiteStore) ReplaceEmbedding(ctx context.Context, slug string, embedding []float32, at time.Time) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode embedding")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_types SET embedding = ?, embedded_at = ? WHERE slug = ?`,
		string(data), at.UTC(), slug,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: replace embedding %s", slug)
	}
	return checkRowsAffected(res, "service type", slug)
}

// --- Providers ---

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if !geo.ValidPoint(p.Location) {
		return eris.Errorf("sqlite: provider %s has invalid location", p.ID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, name, category, lat, lng, address, city, website, email, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, category = excluded.category,
		 lat = excluded.lat, lng = excluded.lng, address = excluded.address, city = excluded.city,
		 website = excluded.website, email = excluded.email`,
		p.ID, p.Name, p.Category, p.Location.Lat, p.Location.Lng, p.Address, p.City, p.Website, p.Email, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert provider %s", p.ID)
}

const sqliteProviderColumns = `p.id, p.name, p.category, p.lat, p.lng, p.address, p.city, p.website, p.email, p.created_at`

func providerDest(p *model.Provider) []any {
	return []any{&p.ID, &p.Name, &p.Category, &p.Location.Lat, &p.Location.Lng,
		&p.Address, &p.City, &p.Website, &p.Email, &p.CreatedAt}
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	err := s.db.QueryRowContext(ctx, `SELECT `+sqliteProviderColumns+` FROM providers p WHERE p.id = ?`, id).
		Scan(providerDest(&p)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: provider %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provider %s", id)
	}
	return &p, nil
}

// --- Matching ---

func (s *SQLiteStore) MatchServiceTypesText(ctx context.Context, query string, limit int) ([]ScoredServiceType, error) {
	return s.scoreServiceTypes(ctx, limit, func(st model.ServiceType) float64 {
		return textsim.Similarity(st.Name, query)
	})
}

func (s *SQLiteStore) MatchServiceTypesVector(ctx context.Context, embedding []float32, limit int) ([]ScoredServiceType, error) {
	return s.scoreServiceTypes(ctx, limit, func(st model.ServiceType) float64 {
		if len(st.Embedding) == 0 {
			return 0
		}
		return textsim.Cosine(st.Embedding, embedding)
	})
}

func (s *SQLiteStore) scoreServiceTypes(ctx context.Context, limit int, score func(model.ServiceType) float64) ([]ScoredServiceType, error) {
	all, err := s.ListServiceTypes(ctx)
	if err != nil {
		return nil, err
	}
	var out []ScoredServiceType
	for _, st := range all {
		sc := score(st)
		if sc <= 0 {
			continue
		}
		st.Embedding = nil
		out = append(out, ScoredServiceType{ServiceType: st, Score: sc})
	}
	sortScored(out)
	if n := limitOr(limit, DefaultMatchLimit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

func (s *SQLiteStore) FindProvidersWithObservations(ctx context.Context, q GeoQuery) ([]ProviderMatch, error) {
	if len(q.Slugs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteProviderColumns+`,
		 o.id, o.service_type, o.price, o.currency, o.source_type, o.source_url, o.observed_at
		 FROM providers p
		 JOIN observations o ON o.provider_id = p.id
		 WHERE o.service_type IN (`+placeholders(len(q.Slugs))+`)
		 ORDER BY p.id, o.observed_at DESC`,
		stringArgs(q.Slugs)...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find providers with observations")
	}
	defer rows.Close() //nolint:errcheck

	var joined []providerRow
	for rows.Next() {
		var r providerRow
		var o model.Observation
		dest := append(providerDest(&r.provider),
			&o.ID, &o.ServiceType, &o.Price, &o.Currency, &o.SourceType, &o.SourceURL, &o.ObservedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider observation")
		}
		r.distance = geo.DistanceMeters(q.Center, r.provider.Location)
		if r.distance > q.RadiusMeters {
			continue
		}
		o.ProviderID = r.provider.ID
		r.obs = &o
		joined = append(joined, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: find providers iterate")
	}
	return groupProviderRows(joined, limitOr(q.Limit, DefaultProviderLimit)), nil
}

func (s *SQLiteStore) FindProvidersByCategory(ctx context.Context, q GeoQuery) ([]ProviderMatch, error) {
	if len(q.Categories) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteProviderColumns+` FROM providers p WHERE p.category IN (`+placeholders(len(q.Categories))+`)`,
		stringArgs(q.Categories)...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find providers by category")
	}
	defer rows.Close() //nolint:errcheck

	var joined []providerRow
	for rows.Next() {
		var r providerRow
		if err := rows.Scan(providerDest(&r.provider)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		r.distance = geo.DistanceMeters(q.Center, r.provider.Location)
		if r.distance > q.RadiusMeters {
			continue
		}
		joined = append(joined, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: find providers by category iterate")
	}
	return groupProviderRows(joined, limitOr(q.Limit, DefaultProviderLimit)), nil
}

// --- Observations ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteObservation(ctx context.Context, ex execer, obs *model.Observation) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO observations (id, provider_id, service_type, price, currency, source_type, source_url, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.ProviderID, obs.ServiceType, obs.Price, obs.Currency,
		string(obs.SourceType), obs.SourceURL, obs.ObservedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) InsertObservation(ctx context.Context, obs *model.Observation) error {
	if err := prepareObservation(obs); err != nil {
		return eris.Wrap(err, "sqlite: insert observation")
	}
	return eris.Wrapf(insertSQLiteObservation(ctx, s.db, obs), "sqlite: insert observation %s", obs.ID)
}

func (s *SQLiteStore) ImportObservations(ctx context.Context, obs []model.Observation) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import observations: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range obs {
		if err := prepareObservation(&obs[i]); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import observation %d", i)
		}
		if err := insertSQLiteObservation(ctx, tx, &obs[i]); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import observation %s", obs[i].ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import observations: commit")
	}
	return int64(len(obs)), nil
}

// --- Inquiries ---

const sqliteInquiryColumns = `id, provider_id, service_type, status, to_address, subject, message_id,
	refs, reply_message_id, sent_at, replied_at`

func scanSQLiteInquiry(row scannable) (*model.Inquiry, error) {
	var inq model.Inquiry
	var refs string
	var repliedAt sql.NullTime
	err := row.Scan(&inq.ID, &inq.ProviderID, &inq.ServiceType, &inq.Status, &inq.ToAddress,
		&inq.Subject, &inq.MessageID, &refs, &inq.ReplyMessageID, &inq.SentAt, &repliedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(refs), &inq.References); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode inquiry refs %s", inq.ID)
	}
	if repliedAt.Valid {
		t := repliedAt.Time
		inq.RepliedAt = &t
	}
	return &inq, nil
}

func (s *SQLiteStore) CreateInquiry(ctx context.Context, inq *model.Inquiry) error {
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
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode inquiry refs")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO inquiries (id, provider_id, service_type, status, to_address, subject, message_id, refs, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inq.ID, inq.ProviderID, inq.ServiceType, string(inq.Status), inq.ToAddress, inq.Subject,
		inq.MessageID, string(refsJSON), inq.SentAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: create inquiry %s", inq.ID)
}

func (s *SQLiteStore) FindInquiryByMessageID(ctx context.Context, messageIDs []string) (*model.Inquiry, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	inq, err := scanSQLiteInquiry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteInquiryColumns+` FROM inquiries WHERE message_id IN (`+placeholders(len(messageIDs))+`)
		 ORDER BY sent_at DESC LIMIT 1`,
		stringArgs(messageIDs)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find inquiry by message id")
	}
	return inq, nil
}

func (s *SQLiteStore) ListInquiries(ctx context.Context, providerID string) ([]model.Inquiry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteInquiryColumns+` FROM inquiries WHERE provider_id = ? ORDER BY sent_at DESC`, providerID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list inquiries %s", providerID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Inquiry
	for rows.Next() {
		inq, err := scanSQLiteInquiry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan inquiry")
		}
		out = append(out, *inq)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list inquiries iterate")
}

func (s *SQLiteStore) RecordReply(ctx context.Context, inquiryID, replyMessageID string, at time.Time, obs *model.Observation) (bool, error) {
	if obs != nil {
		if err := prepareObservation(obs); err != nil {
			return false, eris.Wrap(err, "sqlite: record reply")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: record reply: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE inquiries SET status = ?, replied_at = ?, reply_message_id = ? WHERE id = ? AND status = ?`,
		string(model.InquiryReplied), at.UTC(), replyMessageID, inquiryID, string(model.InquirySent),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: record reply %s", inquiryID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return false, nil
	}
	if obs != nil {
		if err := insertSQLiteObservation(ctx, tx, obs); err != nil {
			return false, eris.Wrapf(err, "sqlite: record reply observation %s", inquiryID)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: record reply: commit")
	}
	return true, nil
}

// ExpireInquiries compares timestamps in Go; SQLite stores them as text.
func (s *SQLiteStore) ExpireInquiries(ctx context.Context, sentBefore time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sent_at FROM inquiries WHERE status = ?`, string(model.InquirySent))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire inquiries")
	}
	var stale []string
	for rows.Next() {
		var id string
		var sentAt time.Time
		if err := rows.Scan(&id, &sentAt); err != nil {
			rows.Close() //nolint:errcheck
			return 0, eris.Wrap(err, "sqlite: scan inquiry")
		}
		if sentAt.Before(sentBefore) {
			stale = append(stale, id)
		}
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: expire inquiries iterate")
	}

	var expired int64
	for _, id := range stale {
		res, err := s.db.ExecContext(ctx,
			`UPDATE inquiries SET status = ? WHERE id = ? AND status = ?`,
			string(model.InquiryExpired), id, string(model.InquirySent))
		if err != nil {
			return expired, eris.Wrapf(err, "sqlite: expire inquiry %s", id)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			expired += n
		}
	}
	return expired, nil
}

// --- Page cache ---

func (s *SQLiteStore) GetCachedPage(ctx context.Context, url string) (*model.CrawledPage, error) {
	var p model.CrawledPage
	err := s.db.QueryRowContext(ctx,
		`SELECT url, title, markdown, html, status_code FROM page_cache WHERE url = ? AND expires_at > ?`,
		url, time.Now().UnixNano(),
	).Scan(&p.URL, &p.Title, &p.Markdown, &p.HTML, &p.StatusCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached page")
	}
	return &p, nil
}

func (s *SQLiteStore) SetCachedPage(ctx context.Context, page model.CrawledPage, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO page_cache (url, title, markdown, html, status_code, expires_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET title = excluded.title, markdown = excluded.markdown,
		 html = excluded.html, status_code = excluded.status_code, expires_at = excluded.expires_at`,
		page.URL, page.Title, page.Markdown, page.HTML, page.StatusCode, time.Now().Add(ttl).UnixNano(),
	)
	return eris.Wrap(err, "sqlite: set cached page")
}

func (s *SQLiteStore) DeleteExpiredPages(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM page_cache WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired pages")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
