package application

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// --- In-memory stores ---

type statusWrite struct {
	status model.InstanceStatus
	code   *string
}

type memInstanceStore struct {
	mu     sync.Mutex
	rows   map[string]*model.Instance
	writes map[string][]statusWrite
}

func newMemInstanceStore() *memInstanceStore {
	return &memInstanceStore{
		rows:   make(map[string]*model.Instance),
		writes: make(map[string][]statusWrite),
	}
}

func (s *memInstanceStore) put(inst model.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[inst.ID] = &inst
}

func (s *memInstanceStore) Get(_ context.Context, id string) (*model.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

func (s *memInstanceStore) SetStatus(_ context.Context, id string, status model.InstanceStatus, pendingCode *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.rows[id]; ok {
		inst.Status = status
		inst.PendingCode = pendingCode
	} else {
		s.rows[id] = &model.Instance{ID: id, Status: status, PendingCode: pendingCode}
	}
	s.writes[id] = append(s.writes[id], statusWrite{status: status, code: pendingCode})
	return nil
}

func (s *memInstanceStore) current(id string) model.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.rows[id]; ok {
		return *inst
	}
	return model.Instance{}
}

func (s *memInstanceStore) statusWrites(id string) []statusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusWrite(nil), s.writes[id]...)
}

type memSessionStore struct {
	mu       sync.Mutex
	rows     map[string]map[string]json.RawMessage
	failGets bool
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{rows: make(map[string]map[string]json.RawMessage)}
}

func (s *memSessionStore) Get(_ context.Context, instanceID, keyID string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGets {
		return nil, false, errors.New("store unavailable")
	}
	data, ok := s.rows[instanceID][keyID]
	return data, ok, nil
}

func (s *memSessionStore) Put(_ context.Context, instanceID, keyID string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[instanceID] == nil {
		s.rows[instanceID] = make(map[string]json.RawMessage)
	}
	s.rows[instanceID][keyID] = data
	return nil
}

func (s *memSessionStore) Delete(_ context.Context, instanceID, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[instanceID], keyID)
	return nil
}

func (s *memSessionStore) DeleteAll(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, instanceID)
	return nil
}

func (s *memSessionStore) has(instanceID, keyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[instanceID][keyID]
	return ok
}

type memTranscriptStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []model.TranscriptEntry
}

func (s *memTranscriptStore) Append(_ context.Context, entry model.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memTranscriptStore) Recent(_ context.Context, instanceID, counterpartID string, limit int) ([]model.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []model.TranscriptEntry
	for _, e := range s.entries {
		if e.InstanceID == instanceID && e.CounterpartID == counterpartID {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (s *memTranscriptStore) all() []model.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TranscriptEntry(nil), s.entries...)
}

// --- Fake transport and dialer ---

type sentText struct {
	To   string
	Body string
}

type fakeTransport struct {
	events chan driven.TransportEvent

	mu           sync.Mutex
	registered   bool
	pairingCode  string
	pairingCalls []string
	sent         []sentText
	closed       bool
	closeOnce    sync.Once
}

func newFakeTransport(registered bool) *fakeTransport {
	return &fakeTransport{
		events:      make(chan driven.TransportEvent, 16),
		registered:  registered,
		pairingCode: "ABC-123",
	}
}

func (t *fakeTransport) Events() <-chan driven.TransportEvent { return t.events }

func (t *fakeTransport) Registered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

func (t *fakeTransport) RequestPairingCode(_ context.Context, phone string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pairingCalls = append(t.pairingCalls, phone)
	return t.pairingCode, nil
}

func (t *fakeTransport) SendText(_ context.Context, to, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentText{To: to, Body: body})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.events) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sentMessages() []sentText {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentText(nil), t.sent...)
}

func (t *fakeTransport) pairingRequests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pairingCalls...)
}

type fakeDialer struct {
	mu         sync.Mutex
	registered bool
	dialDelay  time.Duration
	err        error
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ driven.CredentialStore) (driven.Transport, error) {
	if d.dialDelay > 0 {
		time.Sleep(d.dialDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport(d.registered)
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < len(d.transports) {
		return d.transports[i]
	}
	return nil
}

// --- Fake response strategies ---

type webhookCall struct {
	URL        string
	InstanceID string
	From       string
	Body       string
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls []webhookCall
	reply string
	err   error
}

func (w *fakeWebhook) Invoke(_ context.Context, url, instanceID, from, body string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, webhookCall{URL: url, InstanceID: instanceID, From: from, Body: body})
	return w.reply, w.err
}

func (w *fakeWebhook) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

type completionCall struct {
	SystemPrompt string
	History      []model.ChatTurn
	UserMessage  string
}

type fakeCompletion struct {
	mu    sync.Mutex
	calls []completionCall
	reply string
	err   error
}

func (c *fakeCompletion) Complete(_ context.Context, systemPrompt string, history []model.ChatTurn, userMessage string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, completionCall{SystemPrompt: systemPrompt, History: history, UserMessage: userMessage})
	return c.reply, c.err
}

func (c *fakeCompletion) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeCompletion) call(i int) completionCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}
