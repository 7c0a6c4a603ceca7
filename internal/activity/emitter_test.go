// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package activity

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/musclemap/pulse/internal/logging"
	"github.com/musclemap/pulse/internal/presence"
	"github.com/musclemap/pulse/internal/privacy"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
	os.Exit(m.Run())
}

type fakeStore struct {
	events []*ActivityEvent
	err    error
}

func (s *fakeStore) InsertActivityEvent(_ context.Context, event *ActivityEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type fakePresence struct {
	presenceCalls []string
	statsCalls    []string
	err           error
}

func (p *fakePresence) UpdatePresence(_ context.Context, userID string, _ presence.Meta) error {
	p.presenceCalls = append(p.presenceCalls, userID)
	return p.err
}

func (p *fakePresence) UpdateNowStats(_ context.Context, eventType string, _ map[string]any) error {
	p.statsCalls = append(p.statsCalls, eventType)
	return p.err
}

type published struct {
	topic string
	data  []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic: topic, data: data})
	return nil
}

func newTestEmitter(store *fakeStore, pres *fakePresence, pub *fakePublisher, source privacy.Source) *Emitter {
	if source == nil {
		source = privacy.StaticSource{}
	}
	var publisher Publisher
	if pub != nil {
		publisher = pub
	}
	return NewEmitter(store, pres, publisher, source)
}

func TestEmit_PersistsAndPublishes(t *testing.T) {
	store := &fakeStore{}
	pres := &fakePresence{}
	pub := &fakePublisher{}
	source := privacy.StaticSource{
		"user-1": {UserID: "user-1", ShowInFeed: true},
	}
	emitter := newTestEmitter(store, pres, pub, source)

	event, err := emitter.Emit(context.Background(), "user-1", TypeWorkoutCompleted,
		map[string]any{"totalTu": 100}, EmitOptions{})
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	if !event.Persisted {
		t.Error("event not marked persisted after successful write")
	}
	if len(store.events) != 1 {
		t.Fatalf("store received %d events, want 1", len(store.events))
	}
	if event.VisibilityScope != ScopePublicAnon {
		t.Errorf("scope = %s, want %s", event.VisibilityScope, ScopePublicAnon)
	}

	// Public scope publishes to both channels.
	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}
	topics := map[string]bool{}
	for _, m := range pub.messages {
		topics[m.topic] = true
	}
	if !topics[TopicCommunity] || !topics[TopicMonitor] {
		t.Errorf("published topics %v, want community and monitor", topics)
	}

	if len(pres.presenceCalls) != 1 || pres.presenceCalls[0] != "user-1" {
		t.Errorf("presence calls = %v, want one for user-1", pres.presenceCalls)
	}
}

func TestEmit_NonPublicScopeSkipsCommunityChannel(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	// Restrictive settings put regular events at moderator scope.
	emitter := newTestEmitter(store, &fakePresence{}, pub, privacy.StaticSource{})

	event, err := emitter.Emit(context.Background(), "user-1", TypeWorkoutCompleted, nil, EmitOptions{})
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if event.VisibilityScope != ScopeModerator {
		t.Fatalf("scope = %s, want %s", event.VisibilityScope, ScopeModerator)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	if pub.messages[0].topic != TopicMonitor {
		t.Errorf("published to %s, want monitor only", pub.messages[0].topic)
	}
}

func TestEmit_UnknownTypeRejected(t *testing.T) {
	store := &fakeStore{}
	emitter := newTestEmitter(store, &fakePresence{}, nil, nil)

	_, err := emitter.Emit(context.Background(), "user-1", "workout.imaginary", nil, EmitOptions{})
	if err == nil {
		t.Fatal("expected validation error for unknown type")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
	if len(store.events) != 0 {
		t.Error("rejected event reached the store")
	}
}

func TestEmit_PersistFailureDoesNotFailEmit(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	pub := &fakePublisher{}
	source := privacy.StaticSource{"user-1": {UserID: "user-1", ShowInFeed: true}}
	emitter := newTestEmitter(store, &fakePresence{}, pub, source)

	event, err := emitter.Emit(context.Background(), "user-1", TypeSessionStart, nil, EmitOptions{})
	if err != nil {
		t.Fatalf("Emit() error: %v, want nil despite store failure", err)
	}
	if event.Persisted {
		t.Error("event marked persisted after failed write")
	}
	// Live path still runs.
	if len(pub.messages) == 0 {
		t.Error("publish skipped after persist failure")
	}
}

func TestEmit_PresenceFailureDoesNotFailEmit(t *testing.T) {
	pres := &fakePresence{err: errors.New("badger unavailable")}
	emitter := newTestEmitter(&fakeStore{}, pres, nil, nil)

	event, err := emitter.Emit(context.Background(), "user-1", TypeSessionStart, nil, EmitOptions{})
	if err != nil {
		t.Fatalf("Emit() error: %v, want nil despite presence failure", err)
	}
	if !event.Persisted {
		t.Error("persist should still succeed when presence fails")
	}
}

func TestEmit_PublishFailureDoesNotFailEmit(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	source := privacy.StaticSource{"user-1": {UserID: "user-1", ShowInFeed: true}}
	emitter := newTestEmitter(&fakeStore{}, &fakePresence{}, pub, source)

	event, err := emitter.Emit(context.Background(), "user-1", TypeLevelUp, nil, EmitOptions{})
	if err != nil {
		t.Fatalf("Emit() error: %v, want nil despite publish failure", err)
	}
	if !event.Persisted {
		t.Error("persist should still succeed when publish fails")
	}
}

func TestEmit_GeoBucketRequiresSharing(t *testing.T) {
	store := &fakeStore{}
	source := privacy.StaticSource{
		"sharer": {UserID: "sharer", ShareLocation: true, ShowInFeed: true},
		"hidden": {UserID: "hidden", ShareLocation: false, ShowInFeed: true},
	}
	emitter := newTestEmitter(store, &fakePresence{}, nil, source)

	event, _ := emitter.Emit(context.Background(), "sharer", TypeSessionStart, nil,
		EmitOptions{GeoBucket: "geo:1,2"})
	if event.GeoBucket != "geo:1,2" {
		t.Errorf("GeoBucket = %q, want geo:1,2 for a sharing user", event.GeoBucket)
	}

	event, _ = emitter.Emit(context.Background(), "hidden", TypeSessionStart, nil,
		EmitOptions{GeoBucket: "geo:1,2"})
	if event.GeoBucket != "" {
		t.Errorf("GeoBucket = %q, want empty for a non-sharing user", event.GeoBucket)
	}
}

func TestEmitHeartbeat_NeverPersists(t *testing.T) {
	store := &fakeStore{}
	pres := &fakePresence{}
	emitter := newTestEmitter(store, pres, nil, nil)

	event, err := emitter.EmitHeartbeat(context.Background(), "user-1", EmitOptions{})
	if err != nil {
		t.Fatalf("EmitHeartbeat() error: %v", err)
	}

	if len(store.events) != 0 {
		t.Error("heartbeat reached the durable log")
	}
	if event.Persisted {
		t.Error("heartbeat marked persisted")
	}
	if len(pres.presenceCalls) != 1 {
		t.Errorf("presence calls = %d, want 1; heartbeats refresh liveness", len(pres.presenceCalls))
	}
}

func TestEmit_LocationToggleSkipsPresence(t *testing.T) {
	pres := &fakePresence{}
	emitter := newTestEmitter(&fakeStore{}, pres, nil, nil)

	event, err := emitter.Emit(context.Background(), "user-1", TypeLocationToggled, nil, EmitOptions{})
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if event.VisibilityScope != ScopeAdmin {
		t.Errorf("scope = %s, want %s", event.VisibilityScope, ScopeAdmin)
	}
	if len(pres.presenceCalls) != 0 {
		t.Error("location toggle refreshed presence; audit signals must not")
	}
}

func TestEmit_SkipLive(t *testing.T) {
	pres := &fakePresence{}
	pub := &fakePublisher{}
	source := privacy.StaticSource{"user-1": {UserID: "user-1", ShowInFeed: true}}
	emitter := newTestEmitter(&fakeStore{}, pres, pub, source)

	_, err := emitter.Emit(context.Background(), "user-1", TypeSessionStart, nil, EmitOptions{SkipLive: true})
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if len(pres.presenceCalls) != 0 || len(pres.statsCalls) != 0 {
		t.Error("SkipLive did not bypass presence tracking")
	}
	if len(pub.messages) != 0 {
		t.Error("SkipLive did not bypass publishing")
	}
}

func TestEmit_PrivacyFailureDegradesRestrictive(t *testing.T) {
	pub := &fakePublisher{}
	emitter := newTestEmitter(&fakeStore{}, &fakePresence{}, pub, failingSource{})

	event, err := emitter.Emit(context.Background(), "user-1", TypeWorkoutCompleted, nil,
		EmitOptions{GeoBucket: "geo:1,2"})
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	// Restrictive profile: no feed, no location.
	if event.VisibilityScope != ScopeModerator {
		t.Errorf("scope = %s, want %s under restrictive fallback", event.VisibilityScope, ScopeModerator)
	}
	if event.GeoBucket != "" {
		t.Error("geo bucket attached under restrictive fallback")
	}
	for _, m := range pub.messages {
		if m.topic == TopicCommunity {
			t.Error("community publish happened under restrictive fallback")
		}
	}
}

type failingSource struct{}

func (failingSource) Get(context.Context, string) (privacy.Settings, error) {
	return privacy.Settings{}, errors.New("settings service down")
}

func (failingSource) GetBatch(context.Context, []string) (map[string]privacy.Settings, error) {
	return nil, errors.New("settings service down")
}
