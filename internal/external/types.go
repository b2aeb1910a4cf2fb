// Package external implements the External-Source Scheduler (C11):
// periodic polling of an external ticketing source with change
// detection and back-pressured ingestion, grounded on the original's
// ServiceNow connector/processor/scheduler trio, generalized behind a
// Connector capability interface so other ticketing backends can be
// wired in without touching the scheduler.
package external

import (
	"context"
	"regexp"
	"time"
)

// Record is one external ticket as returned by a Connector, kept as a
// flat string-keyed map mirroring the source system's own field names
// (sys_id, number, short_description, ...) rather than a fixed struct,
// since different connector kinds expose different field sets.
type Record map[string]string

// ID returns the record's external identifier.
func (r Record) ID() string { return r["sys_id"] }

// Number returns the record's human-facing ticket number.
func (r Record) Number() string { return r["number"] }

// Filters narrows a GetIncidents call; keys are connector-specific
// (priority, state, updated_after, ...).
type Filters map[string]string

// sysIDPattern and numberPattern are spec §6's external-source
// connector API input-validation regexes.
var (
	sysIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9]{32}$`)
	numberPattern = regexp.MustCompile(`^[A-Z]{2,3}[0-9]{8}$`)
)

// ValidSysID reports whether id matches the connector API's sys_id format.
func ValidSysID(id string) bool { return sysIDPattern.MatchString(id) }

// ValidNumber reports whether number matches the connector API's ticket-number format.
func ValidNumber(number string) bool { return numberPattern.MatchString(number) }

// Connector is spec §6's external-source connector API: test_connection,
// get_incidents, get_incident. Implementations own their own auth,
// pagination, and rate limiting.
type Connector interface {
	TestConnection(ctx context.Context) (bool, error)
	GetIncidents(ctx context.Context, filters Filters, limit int) ([]Record, error)
	GetIncident(ctx context.Context, sysID string) (Record, error)
}

// FetchResult summarizes one scheduler tick, the shape persisted to
// `fetch_history` per spec §4.11 step 6.
type FetchResult struct {
	FetchTime      time.Time
	Fetched        int
	Processed      int
	Ingested       int
	New            int
	Updated        int
	Skipped        int
	Errors         []string
	DurationSeconds float64
}
