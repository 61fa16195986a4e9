package loader

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/store"
)

// Table is a table rebuilt wholesale from a freshly derived batch.
type Table[T any] struct {
	Name    string
	Count   func(context.Context) (int, error)
	Replace func(context.Context, []T) error
	// GrowOnly skips the replace unless the batch has more rows than the
	// table currently holds.
	GrowOnly bool
}

// ReplaceTable hard-replaces t with rows and reports whether it did.
func ReplaceTable[T any](ctx context.Context, t Table[T], rows []T, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	existing, err := t.Count(ctx)
	if err != nil {
		return false, err
	}
	if t.GrowOnly && len(rows) <= existing {
		logger.Debug("table unchanged",
			zap.String("table", t.Name), zap.Int("rows", len(rows)), zap.Int("existing", existing))
		return false, nil
	}
	if err := t.Replace(ctx, rows); err != nil {
		return false, err
	}
	logger.Info("table replaced",
		zap.String("table", t.Name), zap.Int("rows", len(rows)), zap.Int("previous", existing))
	return true, nil
}

// LocationsTable replaces the raw-location table when the feed gained rows.
func LocationsTable(st *store.Store) Table[epi.Location] {
	return Table[epi.Location]{
		Name:     "locations",
		Count:    st.CountLocations,
		Replace:  st.ReplaceLocations,
		GrowOnly: true,
	}
}

// DailyStatsTable replaces the derived daily table on every refresh.
func DailyStatsTable(st *store.Store) Table[epi.Daily] {
	return Table[epi.Daily]{
		Name:    "daily_stats",
		Count:   st.CountDailyStats,
		Replace: st.ReplaceDailyStats,
	}
}

// ReferenceTable replaces the population/continent lookup.
func ReferenceTable(st *store.Store) Table[epi.Reference] {
	return Table[epi.Reference]{
		Name:    "reference",
		Count:   st.CountReference,
		Replace: st.ReplaceReference,
	}
}
