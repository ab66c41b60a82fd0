// Package progress defines the event stream emitted by the crawl engine and
// the hub that fans it out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageCycleStart      Stage = "CYCLE_START"
	StageCycleDone       Stage = "CYCLE_DONE"
	StageCycleError      Stage = "CYCLE_ERROR"
	StageDomainStart     Stage = "DOMAIN_START"
	StageDomainDone      Stage = "DOMAIN_DONE"
	StageFetchDone       Stage = "FETCH_DONE"
	StageCollectionSaved Stage = "COLLECTION_SAVED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single crawl milestone.
type Event struct {
	RunID       string
	TS          time.Time
	Stage       Stage
	Domain      string
	URL         string
	StatusClass StatusClass
	// Active carries the availability verdict for COLLECTION_SAVED events.
	Active bool
	Dur    time.Duration
	Note   string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone, StageCycleError:
	case StageDomainStart, StageDomainDone:
		if e.Domain == "" {
			return errors.New("domain events require a domain")
		}
	case StageFetchDone:
		if e.Domain == "" {
			return errors.New("fetch done requires a domain")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires a status class")
		}
	case StageCollectionSaved:
		if e.Domain == "" {
			return errors.New("collection saved requires a domain")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
