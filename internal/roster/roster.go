package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"ms-credentials/internal/directory"
	"ms-credentials/internal/models"

	"golang.org/x/sync/errgroup"
)

var (
	ErrEventNotOwned     = errors.New("event not found for organizer")
	ErrRosterUnavailable = errors.New("no roster source could be read")
)

// Source is one layer of the roster. Sources are consulted in priority order.
type Source interface {
	Name() models.RosterSource
	Fetch(ctx context.Context, eventIDs []string) ([]models.RosterEntry, error)
}

type EventDirectory interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	EventsByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error)
}

type Logger interface {
	Info(category, message string)
	Warn(category, message string)
}

type Metrics interface {
	RosterWarning(source, reason string)
}

const (
	ReasonUnavailable = "unavailable"
	ReasonEmpty       = "empty"
)

// AggregationWarning reports a source that contributed nothing to the roster.
type AggregationWarning struct {
	Source  models.RosterSource `json:"source"`
	Reason  string              `json:"reason"`
	Message string              `json:"message,omitempty"`
	Err     error               `json:"-"`
}

type Roster struct {
	Entries  []models.RosterEntry `json:"entries"`
	Warnings []AggregationWarning `json:"warnings,omitempty"`
}

// Aggregator merges the credential, attendance and purchase sources into a
// per-ticket attendee roster.
type Aggregator struct {
	Events  EventDirectory
	Sources []Source
	Logger  Logger
	Metrics Metrics
}

// NewAggregator wires the three standard sources in priority order.
func NewAggregator(events EventDirectory, creds CredentialReader, dir *directory.DB, logger Logger) *Aggregator {
	return &Aggregator{
		Events: events,
		Sources: []Source{
			&CredentialSource{Store: creds},
			&AttendanceSource{Records: dir, Users: dir},
			&PurchaseSource{Purchases: dir, Users: dir},
		},
		Logger: logger,
	}
}

type fetchResult struct {
	entries []models.RosterEntry
	err     error
}

// BuildRoster returns the organizer's attendees, optionally for a single event.
// A failing or empty source only adds a warning; the call fails with
// ErrRosterUnavailable when no source could be read at all.
func (a *Aggregator) BuildRoster(ctx context.Context, organizerID, eventID string) (*Roster, error) {
	events, err := a.organizerEvents(ctx, organizerID, eventID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &Roster{Entries: []models.RosterEntry{}}, nil
	}

	eventIDs := make([]string, 0, len(events))
	titles := make(map[string]string, len(events))
	for _, ev := range events {
		eventIDs = append(eventIDs, ev.ID)
		titles[ev.ID] = ev.Title
	}

	results := make([]fetchResult, len(a.Sources))
	var g errgroup.Group
	for i, src := range a.Sources {
		i, src := i, src
		g.Go(func() error {
			entries, err := src.Fetch(ctx, eventIDs)
			results[i] = fetchResult{entries: entries, err: err}
			return nil
		})
	}
	_ = g.Wait()

	roster := &Roster{}
	failed := 0
	layers := make([][]models.RosterEntry, 0, len(results))
	for i, res := range results {
		name := a.Sources[i].Name()
		switch {
		case res.err != nil:
			failed++
			roster.Warnings = append(roster.Warnings, a.warn(name, ReasonUnavailable, res.err))
			continue
		case len(res.entries) == 0:
			roster.Warnings = append(roster.Warnings, a.warn(name, ReasonEmpty, nil))
		}
		layers = append(layers, res.entries)
	}

	if failed == len(a.Sources) {
		return roster, ErrRosterUnavailable
	}

	roster.Entries = merge(layers)
	for i := range roster.Entries {
		if roster.Entries[i].EventTitle == "" {
			roster.Entries[i].EventTitle = titles[roster.Entries[i].EventID]
		}
	}
	sortEntries(roster.Entries)

	a.Logger.Info("ROSTER", fmt.Sprintf("organizer %s: %d entries from %d events, %d warnings",
		organizerID, len(roster.Entries), len(events), len(roster.Warnings)))
	return roster, nil
}

func (a *Aggregator) organizerEvents(ctx context.Context, organizerID, eventID string) ([]models.Event, error) {
	if eventID == "" {
		return a.Events.EventsByOrganizer(ctx, organizerID)
	}
	ev, err := a.Events.GetEvent(ctx, eventID)
	if errors.Is(err, directory.ErrEventNotFound) {
		return nil, ErrEventNotOwned
	}
	if err != nil {
		return nil, err
	}
	if ev.OrganizerID != organizerID {
		return nil, ErrEventNotOwned
	}
	return []models.Event{*ev}, nil
}

func (a *Aggregator) warn(source models.RosterSource, reason string, err error) AggregationWarning {
	w := AggregationWarning{Source: source, Reason: reason, Err: err}
	if err != nil {
		w.Message = err.Error()
		a.Logger.Warn("ROSTER", fmt.Sprintf("%s source unavailable: %v", source, err))
	} else {
		a.Logger.Info("ROSTER", fmt.Sprintf("%s source returned no rows", source))
	}
	if a.Metrics != nil {
		a.Metrics.RosterWarning(string(source), reason)
	}
	return w
}

// merge walks the layers in priority order and inserts a row only when its key
// is still absent. Credential rows are keyed per ticket. Fallback rows are keyed
// per purchase and only fill purchases no earlier layer has covered.
func merge(layers [][]models.RosterEntry) []models.RosterEntry {
	seen := make(map[string]bool)
	covered := make(map[string]bool)
	var out []models.RosterEntry

	for _, layer := range layers {
		for _, e := range layer {
			var key string
			if e.Source == models.SourceCredential {
				key = e.PurchaseID + "#" + strconv.Itoa(e.TicketNumber)
			} else {
				if covered[e.PurchaseID] {
					continue
				}
				key = e.PurchaseID
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
		for _, e := range layer {
			covered[e.PurchaseID] = true
		}
	}
	if out == nil {
		out = []models.RosterEntry{}
	}
	return out
}

// sortEntries orders by purchase/record time, newest first.
func sortEntries(entries []models.RosterEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.SortTime.Equal(b.SortTime) {
			return a.SortTime.After(b.SortTime)
		}
		if a.PurchaseID != b.PurchaseID {
			return a.PurchaseID < b.PurchaseID
		}
		return a.TicketNumber < b.TicketNumber
	})
}
