package embed

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/model"
)

// EmbeddingWriter stores a service type's vector.
type EmbeddingWriter interface {
	ReplaceEmbedding(ctx context.Context, slug string, embedding []float32, at time.Time) error
}

// EmbedServiceTypes embeds every service type and replaces its stored
// vector. It returns the number of service types updated.
func EmbedServiceTypes(ctx context.Context, e Embedder, w EmbeddingWriter, types []model.ServiceType) (int, error) {
	if len(types) == 0 {
		return 0, nil
	}
	texts := make([]string, len(types))
	for i, st := range types {
		texts[i] = st.EmbeddingText()
	}

	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return 0, eris.Wrap(err, "embed: service types")
	}

	now := time.Now().UTC()
	for i, st := range types {
		if err := w.ReplaceEmbedding(ctx, st.Slug, vecs[i], now); err != nil {
			return i, eris.Wrapf(err, "embed: replace embedding for %s", st.Slug)
		}
	}
	zap.L().Info("embed: service types embedded", zap.Int("count", len(types)))
	return len(types), nil
}
