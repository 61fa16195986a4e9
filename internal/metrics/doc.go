// Package metrics derives the dashboard views from the fact table.
//
// Every function here is pure: it takes fact rows (and, where needed, the
// reference lookup) and returns new rows without touching the store. Views
// that depend on history, such as daily deltas and moving averages, are
// always computed over the full series and filtered afterwards.
package metrics
