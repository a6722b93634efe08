package model

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/price-discovery/internal/resilience"
)

// Pipeline outcome taxonomy. Everything except store/transport failures on
// the synchronous query path degrades to "no price available yet".
var (
	ErrFetchFailure       = eris.New("fetch failure")
	ErrExtractionFailure  = eris.New("extraction failure")
	ErrNoPriceFound       = eris.New("no price found")
	ErrContactNotFound    = eris.New("contact not found")
	ErrSendFailure        = eris.New("send failure")
	ErrCorrelationTimeout = eris.New("correlation timeout")
	ErrNotFound           = eris.New("not found")

	// ErrCircuitOpen marks a tier skipped because its dependency's breaker
	// is open.
	ErrCircuitOpen = resilience.ErrCircuitOpen
)
