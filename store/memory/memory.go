// Package memory provides an in-memory implementation of every storage
// contract the engine uses (ledger, aggregate, badges, activity, users).
// For tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

// Operation names accepted by Fail.
const (
	OpInsertEvents         = "InsertEvents"
	OpEvents               = "Events"
	OpSumEventValues       = "SumEventValues"
	OpDeleteEventsByOrigin = "DeleteEventsByOrigin"
	OpUpsertAggregate      = "UpsertAggregate"
	OpMirrorTotalXP        = "MirrorTotalXP"
	OpAwardBadge           = "AwardBadge"
	OpUserIDs              = "UserIDs"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	events     map[xp.UserID][]xp.LedgerEvent
	sourceIDs  map[sourceKey]bool
	aggregates map[xp.UserID]xp.Aggregate
	profiles   map[xp.UserID]int
	badges     []rewards.Badge
	userBadges map[xp.UserID][]rewards.UserBadge

	history     map[xp.UserID]*activity.Bundle
	enrollments map[xp.UserID][]activity.Enrollment

	faults map[string]error
}

type sourceKey struct {
	UserID   xp.UserID
	SourceID string
}

var (
	_ xp.TxStore                = (*Memory)(nil)
	_ xp.UserLister             = (*Memory)(nil)
	_ rewards.BadgeStore        = (*Memory)(nil)
	_ rewards.CatalogStore      = (*Memory)(nil)
	_ activity.Source           = (*Memory)(nil)
	_ activity.EnrollmentSource = (*Memory)(nil)
)

func New() *Memory {
	return &Memory{
		events:      make(map[xp.UserID][]xp.LedgerEvent),
		sourceIDs:   make(map[sourceKey]bool),
		aggregates:  make(map[xp.UserID]xp.Aggregate),
		profiles:    make(map[xp.UserID]int),
		userBadges:  make(map[xp.UserID][]rewards.UserBadge),
		history:     make(map[xp.UserID]*activity.Bundle),
		enrollments: make(map[xp.UserID][]activity.Enrollment),
		faults:      make(map[string]error),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) InsertEvents(_ context.Context, events []xp.LedgerEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(events)
}

func (m *Memory) insertLocked(events []xp.LedgerEvent) (int, error) {
	if err := m.faults[OpInsertEvents]; err != nil {
		return 0, err
	}
	inserted := 0
	for _, e := range events {
		if e.SourceID != "" {
			k := sourceKey{UserID: e.UserID, SourceID: e.SourceID}
			if m.sourceIDs[k] {
				continue
			}
			m.sourceIDs[k] = true
		}
		m.appendLocked(e)
		inserted++
	}
	return inserted, nil
}

// appendLocked keeps each user's events sorted by CreatedAt.
func (m *Memory) appendLocked(e xp.LedgerEvent) {
	evs := m.events[e.UserID]
	i := sort.Search(len(evs), func(i int) bool {
		return evs[i].CreatedAt.After(e.CreatedAt)
	})
	evs = append(evs, xp.LedgerEvent{})
	copy(evs[i+1:], evs[i:])
	evs[i] = e
	m.events[e.UserID] = evs
}

func (m *Memory) Events(_ context.Context, userID xp.UserID) ([]xp.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventsLocked(userID)
}

func (m *Memory) eventsLocked(userID xp.UserID) ([]xp.LedgerEvent, error) {
	if err := m.faults[OpEvents]; err != nil {
		return nil, err
	}
	out := make([]xp.LedgerEvent, len(m.events[userID]))
	copy(out, m.events[userID])
	return out, nil
}

func (m *Memory) SumEventValues(_ context.Context, userID xp.UserID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumLocked(userID)
}

func (m *Memory) sumLocked(userID xp.UserID) (int, error) {
	if err := m.faults[OpSumEventValues]; err != nil {
		return 0, err
	}
	return xp.SumValues(m.events[userID]), nil
}

func (m *Memory) DeleteEventsByOrigin(_ context.Context, userID xp.UserID, origin xp.Origin) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(userID, origin)
}

func (m *Memory) deleteLocked(userID xp.UserID, origin xp.Origin) (int, error) {
	if err := m.faults[OpDeleteEventsByOrigin]; err != nil {
		return 0, err
	}
	kept := m.events[userID][:0:0]
	deleted := 0
	for _, e := range m.events[userID] {
		if e.Origin == origin {
			delete(m.sourceIDs, sourceKey{UserID: userID, SourceID: e.SourceID})
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events[userID] = kept
	return deleted, nil
}

// =============================================================================
// AGGREGATE
// =============================================================================

func (m *Memory) Aggregate(_ context.Context, userID xp.UserID) (*xp.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregateLocked(userID), nil
}

func (m *Memory) aggregateLocked(userID xp.UserID) *xp.Aggregate {
	agg, ok := m.aggregates[userID]
	if !ok {
		return nil
	}
	return &agg
}

func (m *Memory) UpsertAggregate(_ context.Context, agg xp.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(agg)
}

func (m *Memory) upsertLocked(agg xp.Aggregate) error {
	if err := m.faults[OpUpsertAggregate]; err != nil {
		return err
	}
	m.aggregates[agg.UserID] = agg
	return nil
}

func (m *Memory) MirrorTotalXP(_ context.Context, userID xp.UserID, totalXP int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirrorLocked(userID, totalXP)
}

func (m *Memory) mirrorLocked(userID xp.UserID, totalXP int) error {
	if err := m.faults[OpMirrorTotalXP]; err != nil {
		return err
	}
	if _, ok := m.profiles[userID]; ok {
		m.profiles[userID] = totalXP
	}
	return nil
}

// ProfileTotalXP returns the legacy mirror value and whether the profile exists.
func (m *Memory) ProfileTotalXP(userID xp.UserID) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.profiles[userID]
	return v, ok
}

// =============================================================================
// TRANSACTIONS - Snapshot + restore on error
// =============================================================================

func (m *Memory) WithTx(_ context.Context, fn func(xp.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	events     map[xp.UserID][]xp.LedgerEvent
	sourceIDs  map[sourceKey]bool
	aggregates map[xp.UserID]xp.Aggregate
	profiles   map[xp.UserID]int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		events:     make(map[xp.UserID][]xp.LedgerEvent, len(m.events)),
		sourceIDs:  make(map[sourceKey]bool, len(m.sourceIDs)),
		aggregates: make(map[xp.UserID]xp.Aggregate, len(m.aggregates)),
		profiles:   make(map[xp.UserID]int, len(m.profiles)),
	}
	for k, v := range m.events {
		s.events[k] = append([]xp.LedgerEvent{}, v...)
	}
	for k, v := range m.sourceIDs {
		s.sourceIDs[k] = v
	}
	for k, v := range m.aggregates {
		s.aggregates[k] = v
	}
	for k, v := range m.profiles {
		s.profiles[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.events = s.events
	m.sourceIDs = s.sourceIDs
	m.aggregates = s.aggregates
	m.profiles = s.profiles
}

// txView runs against the parent's maps while WithTx holds the lock.
type txView struct {
	parent *Memory
}

func (tv *txView) InsertEvents(_ context.Context, events []xp.LedgerEvent) (int, error) {
	return tv.parent.insertLocked(events)
}

func (tv *txView) Events(_ context.Context, userID xp.UserID) ([]xp.LedgerEvent, error) {
	return tv.parent.eventsLocked(userID)
}

func (tv *txView) SumEventValues(_ context.Context, userID xp.UserID) (int, error) {
	return tv.parent.sumLocked(userID)
}

func (tv *txView) DeleteEventsByOrigin(_ context.Context, userID xp.UserID, origin xp.Origin) (int, error) {
	return tv.parent.deleteLocked(userID, origin)
}

func (tv *txView) Aggregate(_ context.Context, userID xp.UserID) (*xp.Aggregate, error) {
	return tv.parent.aggregateLocked(userID), nil
}

func (tv *txView) UpsertAggregate(_ context.Context, agg xp.Aggregate) error {
	return tv.parent.upsertLocked(agg)
}

func (tv *txView) MirrorTotalXP(_ context.Context, userID xp.UserID, totalXP int) error {
	return tv.parent.mirrorLocked(userID, totalXP)
}

// =============================================================================
// USERS
// =============================================================================

// AddProfile registers a user for bulk runs.
func (m *Memory) AddProfile(userID xp.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[userID]; !ok {
		m.profiles[userID] = 0
	}
}

// UserIDs returns every profile id in ascending order.
func (m *Memory) UserIDs(_ context.Context) ([]xp.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.faults[OpUserIDs]; err != nil {
		return nil, err
	}
	ids := make([]xp.UserID, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// =============================================================================
// BADGES
// =============================================================================

func (m *Memory) UpsertBadges(_ context.Context, badges []rewards.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range badges {
		replaced := false
		for i := range m.badges {
			if m.badges[i].ID == b.ID {
				m.badges[i] = b
				replaced = true
				break
			}
		}
		if !replaced {
			m.badges = append(m.badges, b)
		}
	}
	return nil
}

func (m *Memory) ListBadges(_ context.Context) ([]rewards.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]rewards.Badge{}, m.badges...), nil
}

func (m *Memory) UserBadges(_ context.Context, userID xp.UserID) ([]rewards.UserBadge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]rewards.UserBadge{}, m.userBadges[userID]...), nil
}

func (m *Memory) AwardBadge(_ context.Context, award rewards.UserBadge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[OpAwardBadge]; err != nil {
		return false, err
	}
	for _, held := range m.userBadges[award.UserID] {
		if held.BadgeID == award.BadgeID {
			return false, nil
		}
	}
	m.userBadges[award.UserID] = append(m.userBadges[award.UserID], award)
	return true, nil
}

// =============================================================================
// ACTIVITY - Raw history with the same filters the SQL stores apply
// =============================================================================

// Seed appends raw activity for userID. Records that the SQL filters would
// exclude (incomplete goals, pending uploads) may be seeded too.
func (m *Memory) Seed(userID xp.UserID, b activity.Bundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.history[userID]
	if !ok {
		h = &activity.Bundle{}
		m.history[userID] = h
	}
	h.Flashcards = append(h.Flashcards, b.Flashcards...)
	h.StudySessions = append(h.StudySessions, b.StudySessions...)
	h.Notes = append(h.Notes, b.Notes...)
	h.Goals = append(h.Goals, b.Goals...)
	h.ReadingSessions = append(h.ReadingSessions, b.ReadingSessions...)
	h.FileUploads = append(h.FileUploads, b.FileUploads...)
}

func (m *Memory) SeedEnrollments(userID xp.UserID, enrollments ...activity.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[userID] = append(m.enrollments[userID], enrollments...)
}

func (m *Memory) bundle(userID xp.UserID) activity.Bundle {
	if h, ok := m.history[userID]; ok {
		return *h
	}
	return activity.Bundle{}
}

func (m *Memory) Flashcards(_ context.Context, userID xp.UserID) ([]activity.Flashcard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]activity.Flashcard{}, m.bundle(userID).Flashcards...), nil
}

func (m *Memory) StudySessions(_ context.Context, userID xp.UserID) ([]activity.StudySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []activity.StudySession
	for _, s := range m.bundle(userID).StudySessions {
		if s.CompletedAt.Valid {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) Notes(_ context.Context, userID xp.UserID) ([]activity.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]activity.Note{}, m.bundle(userID).Notes...), nil
}

func (m *Memory) Goals(_ context.Context, userID xp.UserID) ([]activity.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []activity.Goal
	for _, g := range m.bundle(userID).Goals {
		if g.Status == activity.GoalStatusCompleted {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Memory) ReadingSessions(_ context.Context, userID xp.UserID) ([]activity.ReadingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]activity.ReadingSession{}, m.bundle(userID).ReadingSessions...), nil
}

func (m *Memory) FileUploads(_ context.Context, userID xp.UserID) ([]activity.FileUpload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []activity.FileUpload
	for _, u := range m.bundle(userID).FileUploads {
		if u.ProcessingStatus == activity.ProcessingStatusCompleted {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memory) Enrollments(_ context.Context, userID xp.UserID) ([]activity.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]activity.Enrollment{}, m.enrollments[userID]...), nil
}
