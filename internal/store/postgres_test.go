package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetServiceType_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT slug, name, category, description, embedded_at, created_at FROM service_types WHERE slug = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetServiceType(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceEmbedding(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	vec := make([]float32, EmbeddingDimensions)
	vec[0] = 0.5
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE service_types SET embedding = \$2::vector, embedded_at = \$3 WHERE slug = \$1`).
		WithArgs("oil_change", vectorLiteral(vec), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.ReplaceEmbedding(context.Background(), "oil_change", vec, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceEmbedding_WrongDimensions(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	err := s.ReplaceEmbedding(context.Background(), "oil_change", []float32{1, 2}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestPostgresStore_MatchServiceTypesText(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var never *time.Time

	rows := pgxmock.NewRows([]string{"slug", "name", "category", "description", "embedded_at", "created_at", "score"}).
		AddRow("oil_change", "Oil Change", "garage", "", never, created, 0.46).
		AddRow("oil_filter", "Oil Filter", "garage", "", never, created, 0.46)
	mock.ExpectQuery(`similarity\(name, \$1\) AS score`).
		WithArgs("oil chnage", DefaultMatchLimit).
		WillReturnRows(rows)

	got, err := s.MatchServiceTypesText(context.Background(), "oil chnage", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "oil_change", got[0].ServiceType.Slug)
	assert.InDelta(t, 0.46, got[0].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MatchServiceTypesVector(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	embedded := created

	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\) AS score`).
		WithArgs("[1,0]", 5).
		WillReturnRows(pgxmock.NewRows([]string{"slug", "name", "category", "description", "embedded_at", "created_at", "score"}).
			AddRow("mot_test", "MOT Test", "garage", "", &embedded, created, 0.81))

	got, err := s.MatchServiceTypesVector(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mot_test", got[0].ServiceType.Slug)
	assert.NotNil(t, got[0].ServiceType.EmbeddedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProvidersWithObservations(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	observed := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "name", "category", "lat", "lng", "address", "city", "website", "email", "created_at", "distance",
		"oid", "service_type", "price", "currency", "source_type", "source_url", "observed_at"}
	rows := pgxmock.NewRows(cols).
		AddRow("p1", "Near", "garage", 51.508, -0.128, "", "", "", "", created, 70.0,
			"o1", "oil_change", 45.0, "GBP", "scrape", "https://near.example", observed).
		AddRow("p1", "Near", "garage", 51.508, -0.128, "", "", "", "", created, 70.0,
			"o2", "mot_test", 54.85, "GBP", "manual", "", observed).
		AddRow("p2", "Mid", "garage", 51.515, -0.140, "", "", "", "", created, 1200.0,
			"o3", "oil_change", 60.0, "GBP", "quote", "", observed)

	mock.ExpectQuery(`ST_DWithin\(p.location`).
		WithArgs([]string{"oil_change", "mot_test"}, -0.1278, 51.5074, 5000.0).
		WillReturnRows(rows)

	got, err := s.FindProvidersWithObservations(context.Background(), GeoQuery{
		Slugs:        []string{"oil_change", "mot_test"},
		Center:       model.Point{Lat: 51.5074, Lng: -0.1278},
		RadiusMeters: 5000,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].Provider.ID)
	assert.Len(t, got[0].Observations, 2)
	assert.Equal(t, "p1", got[0].Observations[0].ProviderID)
	assert.Equal(t, model.SourceScrape, got[0].Observations[0].SourceType)
	assert.Equal(t, "p2", got[1].Provider.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProvidersWithObservations_NoSlugs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	got, err := s.FindProvidersWithObservations(context.Background(), GeoQuery{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertObservation(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	obs := &model.Observation{
		ProviderID: "p1", ServiceType: "oil_change", Price: 45, Currency: "GBP",
		SourceType: model.SourceScrape, SourceURL: "https://near.example/prices",
	}

	mock.ExpectExec(`INSERT INTO observations`).
		WithArgs(pgxmock.AnyArg(), "p1", "oil_change", 45.0, "GBP", "scrape", "https://near.example/prices", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.InsertObservation(context.Background(), obs))
	assert.NotEmpty(t, obs.ID)
	assert.False(t, obs.ObservedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertObservation_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	err := s.InsertObservation(context.Background(), &model.Observation{
		ProviderID: "p1", ServiceType: "oil_change", Price: 45, Currency: "XXQ", SourceType: model.SourceScrape,
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordReply(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	obs := &model.Observation{ProviderID: "p1", ServiceType: "oil_change", Price: 49, Currency: "GBP", SourceType: model.SourceEmailReply}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE inquiries SET status = \$2, replied_at = \$3, reply_message_id = \$4`).
		WithArgs("inq-1", "replied", at, "<reply@x>", "sent").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO observations`).
		WithArgs(pgxmock.AnyArg(), "p1", "oil_change", 49.0, "GBP", "email_reply", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ok, err := s.RecordReply(context.Background(), "inq-1", "<reply@x>", at, obs)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresStore_RecordReply_AlreadyReplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE inquiries SET status`).
		WithArgs("inq-1", "replied", at, "<reply@x>", "sent").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	ok, err := s.RecordReply(context.Background(), "inq-1", "<reply@x>", at, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindInquiryByMessageID_NoMatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM inquiries WHERE message_id = ANY\(\$1\)`).
		WithArgs([]string{"<x@y>"}).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.FindInquiryByMessageID(context.Background(), []string{"<x@y>"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireInquiries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE inquiries SET status = \$1 WHERE status = \$2 AND sent_at < \$3`).
		WithArgs("expired", "sent", cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.ExpireInquiries(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgresStore_GetCachedPage_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT url, title, markdown, html, status_code FROM page_cache`).
		WithArgs("https://x.example/").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetCachedPage(context.Background(), "https://x.example/")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS postgis`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
