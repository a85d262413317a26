package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/versatiles/printops/internal/nats"
)

type memStore struct {
	mu   sync.Mutex
	logs map[uuid.UUID]Log
	err  error
}

func newMemStore() *memStore { return &memStore{logs: make(map[uuid.UUID]Log)} }

func (s *memStore) Insert(_ context.Context, log *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.logs[log.ID] = *log
	return nil
}

func (s *memStore) List(_ context.Context, params ListParams) ([]Log, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Log
	for _, l := range s.logs {
		if params.Action == "" || l.Action == params.Action {
			out = append(out, l)
		}
	}
	return out, int64(len(out)), nil
}

// fakeMsg overrides the parts of jetstream.Msg the consumer touches.
type fakeMsg struct {
	jetstream.Msg
	data   []byte
	seq    uint64
	result string
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Ack() error   { m.result = "ack"; return nil }
func (m *fakeMsg) Nak() error   { m.result = "nak"; return nil }
func (m *fakeMsg) Term() error  { m.result = "term"; return nil }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{
		Stream:   inats.StreamEvents,
		Sequence: jetstream.SequencePair{Stream: m.seq},
	}, nil
}

func eventMsg(t *testing.T, event inats.AuditEvent, seq uint64) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return &fakeMsg{data: data, seq: seq}
}

func TestHandleEvent_PersistsStates(t *testing.T) {
	store := newMemStore()
	c := NewConsumer(store, nil)
	actor := uuid.New()
	at := time.Date(2026, time.October, 3, 9, 0, 0, 0, time.UTC)

	msg := eventMsg(t, inats.AuditEvent{
		ActorID:      &actor,
		Action:       inats.ActionOrderStatusChanged,
		ResourceType: "order",
		ResourceID:   "o-1",
		Before:       map[string]any{"status": "pending"},
		After:        map[string]any{"status": "validated"},
		Timestamp:    at,
	}, 7)
	c.handleEvent(context.Background(), msg)

	assert.Equal(t, "ack", msg.result)
	require.Len(t, store.logs, 1)
	for _, l := range store.logs {
		assert.Equal(t, &actor, l.ActorID)
		assert.Equal(t, "o-1", l.ResourceID)
		assert.JSONEq(t, `{"status":"pending"}`, string(l.Before))
		assert.JSONEq(t, `{"status":"validated"}`, string(l.After))
		assert.JSONEq(t, `{}`, string(l.Details))
		assert.Equal(t, at, l.CreatedAt)
	}
}

func TestHandleEvent_RedeliveryKeepsOneRow(t *testing.T) {
	store := newMemStore()
	c := NewConsumer(store, nil)
	event := inats.AuditEvent{Action: inats.ActionQuotaDeducted, ResourceType: "quota", Timestamp: time.Now().UTC()}

	c.handleEvent(context.Background(), eventMsg(t, event, 42))
	c.handleEvent(context.Background(), eventMsg(t, event, 42))
	c.handleEvent(context.Background(), eventMsg(t, event, 43))

	assert.Len(t, store.logs, 2)
}

func TestHandleEvent_MalformedIsTerminated(t *testing.T) {
	store := newMemStore()
	c := NewConsumer(store, nil)

	bad := &fakeMsg{data: []byte("{not json")}
	c.handleEvent(context.Background(), bad)
	assert.Equal(t, "term", bad.result)

	noAction := eventMsg(t, inats.AuditEvent{ResourceType: "order"}, 1)
	c.handleEvent(context.Background(), noAction)
	assert.Equal(t, "term", noAction.result)

	assert.Empty(t, store.logs)
}

func TestHandleEvent_StoreFailureNaks(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	c := NewConsumer(store, nil)

	msg := eventMsg(t, inats.AuditEvent{Action: inats.ActionImportRejected}, 3)
	c.handleEvent(context.Background(), msg)
	assert.Equal(t, "nak", msg.result)
}

func TestToLog_DefaultsTimestamp(t *testing.T) {
	log, err := toLog(inats.AuditEvent{Action: inats.ActionUserCreated, Details: map[string]any{"role": "agent"}})
	require.NoError(t, err)
	assert.False(t, log.CreatedAt.IsZero())
	assert.Nil(t, log.Before)
	assert.JSONEq(t, `{"role":"agent"}`, string(log.Details))
}
