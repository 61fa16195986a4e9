package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/epiboard/internal/epi"
	"github.com/roach88/epiboard/internal/failure"
)

// MaxN bounds the n parameter.
const MaxN = 50

// Params are the read parameters shared by every view. Zero values mean
// "use the default".
type Params struct {
	MinDate epi.Date `json:"min_date"`
	Date    epi.Date `json:"date"`
	Country string   `json:"country,omitempty"`
	N       int      `json:"n,omitempty"`
}

// key is the cache key fragment for p.
func (p Params) key() string {
	return fmt.Sprintf("min=%s|date=%s|country=%s|n=%d", p.MinDate, p.Date, p.Country, p.N)
}

// Validate checks p independently of any stored state.
func (p Params) Validate() error {
	const op = "query.params"
	if p.N < 0 || p.N > MaxN {
		return failure.Query(op, "n must be between 1 and %d, got %d", MaxN, p.N)
	}
	if !p.MinDate.IsZero() && !p.Date.IsZero() && p.Date.Before(p.MinDate) {
		return failure.Query(op, "date %s is before min_date %s", p.Date, p.MinDate)
	}
	return nil
}

// ParseParams reads Params from URL query values. Unknown keys are
// rejected so typos do not silently select defaults.
func ParseParams(values url.Values) (Params, error) {
	const op = "query.params"
	var p Params
	for name, vs := range values {
		if len(vs) != 1 {
			return Params{}, failure.Query(op, "parameter %q given %d times", name, len(vs))
		}
		v := strings.TrimSpace(vs[0])
		var err error
		switch name {
		case "min_date":
			p.MinDate, err = parseDateParam(name, v)
		case "date":
			p.Date, err = parseDateParam(name, v)
		case "country":
			p.Country = v
		case "n":
			p.N, err = strconv.Atoi(v)
			if err != nil || p.N < 1 {
				err = failure.Query(op, "n must be a positive integer, got %q", v)
			}
		default:
			err = failure.Query(op, "unknown parameter %q", name)
		}
		if err != nil {
			return Params{}, err
		}
	}
	return p, p.Validate()
}

func parseDateParam(name, v string) (epi.Date, error) {
	if v == "" {
		return epi.Date{}, nil
	}
	d, err := epi.ParseDate(v)
	if err != nil {
		return epi.Date{}, failure.Query("query.params", "%s must be YYYY-MM-DD, got %q", name, v)
	}
	return d, nil
}
