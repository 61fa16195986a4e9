package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/epiboard/internal/epi"
)

var testNow = time.Date(2020, time.April, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store with a fixed clock and
// sequential run IDs.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	seq := 0
	s, err := Open(path,
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("run-%03d", seq)
		}),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fact(country, date string, confirmed, deaths, recovered int64) epi.Fact {
	return epi.Fact{
		Country:   country,
		Date:      epi.MustDate(date),
		Confirmed: confirmed,
		Deaths:    deaths,
		Recovered: recovered,
	}
}
