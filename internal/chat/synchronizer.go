// Package chat reconciles one conversation's REST history with its live
// channel events into a single deduplicated, chronologically ordered
// message list, plus the derived typing and read-indicator state.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"chatcore/internal/domain"
	"chatcore/internal/event"
)

// DefaultPageSize is the history page size used when none is configured.
const DefaultPageSize = 50

// API is the REST surface the synchronizer consumes.
type API interface {
	ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]domain.Message, error)
	MarkRead(ctx context.Context, chatID string) error
	EditMessage(ctx context.Context, messageID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	LookupUser(ctx context.Context, userID string) (*domain.UserIdentity, error)
}

// Channel is the realtime surface the synchronizer consumes.
type Channel interface {
	On(name string, fn event.Handler) int
	Off(name string, id int)
	SendMessage(content string) error
	SendTyping() error
	SendStopTyping() error
	SendRead() error
	Disconnect()
}

type subscription struct {
	name string
	id   int
}

// Synchronizer is the per-screen controller for one conversation. It is the
// single source of truth for the rendered message list.
type Synchronizer struct {
	api    API
	ch     Channel
	chatID string
	selfID string

	pageSize      int
	typingTimeout time.Duration
	log           *slog.Logger

	mu           sync.Mutex
	msgs         []domain.Message
	hasMore      bool
	typing       map[string]string // userID -> display name
	typingTimers map[string]*time.Timer
	inputTimer   *time.Timer
	subs         []subscription
	closed       bool
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithPageSize overrides the history page size.
func WithPageSize(n int) Option {
	return func(s *Synchronizer) { s.pageSize = n }
}

// WithTypingTimeout overrides the 3s local stop-typing timeout.
func WithTypingTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.typingTimeout = d }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// New builds a synchronizer for one conversation and subscribes to its live
// events. Call Load to fetch the initial page, Close when the screen goes
// away.
func New(api API, ch Channel, chatID, selfID string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		api:           api,
		ch:            ch,
		chatID:        chatID,
		selfID:        selfID,
		pageSize:      DefaultPageSize,
		typingTimeout: 3 * time.Second,
		log:           slog.Default(),
		typing:        make(map[string]string),
		typingTimers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.subs = []subscription{
		{domain.EventMessage, ch.On(domain.EventMessage, s.onMessage)},
		{domain.EventTyping, ch.On(domain.EventTyping, s.onTyping)},
		{domain.EventStopTyping, ch.On(domain.EventStopTyping, s.onStopTyping)},
		{domain.EventRead, ch.On(domain.EventRead, s.onRead)},
	}
	return s
}

// Load fetches the most recent history page, marks the conversation read,
// and replaces the current list. hasMore records whether the page was full.
func (s *Synchronizer) Load(ctx context.Context) error {
	page, err := s.api.ListMessages(ctx, s.chatID, s.pageSize, time.Time{})
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if err := s.api.MarkRead(ctx, s.chatID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	// Read acknowledgement fans out over the channel as well, so the peer's
	// indicators update without polling.
	if err := s.ch.SendRead(); err != nil && err != domain.ErrNotConnected {
		s.log.Warn("send read acknowledgement", "error", err)
	}

	chronological := reversed(page)

	s.mu.Lock()
	s.msgs = chronological
	s.hasMore = len(page) == s.pageSize
	s.mu.Unlock()
	return nil
}

// LoadOlder pages one more batch of history strictly older than the oldest
// rendered message and prepends it. Messages already present are never
// duplicated or reordered.
func (s *Synchronizer) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore || len(s.msgs) == 0 {
		s.mu.Unlock()
		return nil
	}
	before := s.msgs[0].CreatedAt
	s.mu.Unlock()

	page, err := s.api.ListMessages(ctx, s.chatID, s.pageSize, before)
	if err != nil {
		return fmt.Errorf("load older messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.msgs))
	for _, m := range s.msgs {
		seen[m.ID] = struct{}{}
	}
	older := make([]domain.Message, 0, len(page))
	for _, m := range reversed(page) {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		older = append(older, m)
	}
	s.msgs = append(older, s.msgs...)
	s.hasMore = len(page) == s.pageSize
	return nil
}

// HasMore reports whether older history can still be paged in.
func (s *Synchronizer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Messages returns a snapshot of the rendered list, ascending by CreatedAt.
func (s *Synchronizer) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.msgs))
	copy(out, s.msgs)
	for i := range out {
		out[i].ReadBy = append([]string(nil), out[i].ReadBy...)
	}
	return out
}

// Send transmits a message over the channel. The persisted message arrives
// back as a live echo. Sending also cancels the local typing timer and
// announces stop_typing immediately.
func (s *Synchronizer) Send(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content is empty: %w", domain.ErrInvalidInput)
	}
	s.cancelInputTimer()
	if err := s.ch.SendMessage(content); err != nil {
		return err
	}
	if err := s.ch.SendStopTyping(); err != nil && err != domain.ErrNotConnected {
		s.log.Warn("send stop_typing", "error", err)
	}
	return nil
}

// InputChanged mirrors the local input box. Any non-empty text emits typing
// and re-arms the local stop-typing timer; clearing the input stops
// immediately.
func (s *Synchronizer) InputChanged(text string) {
	if strings.TrimSpace(text) == "" {
		s.cancelInputTimer()
		_ = s.ch.SendStopTyping()
		return
	}
	if err := s.ch.SendTyping(); err != nil && err != domain.ErrNotConnected {
		s.log.Warn("send typing", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputTimer != nil {
		s.inputTimer.Stop()
	}
	s.inputTimer = time.AfterFunc(s.typingTimeout, func() {
		_ = s.ch.SendStopTyping()
	})
}

// Edit replaces a message's content over REST and reloads the current page.
// Empty content is rejected before any network call.
func (s *Synchronizer) Edit(ctx context.Context, messageID, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("edit content is empty: %w", domain.ErrInvalidInput)
	}
	if _, err := s.api.EditMessage(ctx, messageID, content); err != nil {
		return err
	}
	return s.reload(ctx)
}

// Delete removes a message over REST and reloads the current page.
func (s *Synchronizer) Delete(ctx context.Context, messageID string) error {
	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	return s.reload(ctx)
}

// reload re-fetches the latest page after a mutation. Local state is only
// replaced on success.
func (s *Synchronizer) reload(ctx context.Context) error {
	page, err := s.api.ListMessages(ctx, s.chatID, s.pageSize, time.Time{})
	if err != nil {
		return fmt.Errorf("reload messages: %w", err)
	}
	chronological := reversed(page)

	s.mu.Lock()
	s.msgs = chronological
	s.hasMore = len(page) == s.pageSize
	s.mu.Unlock()
	return nil
}

// TypingUsers returns the display names of peers currently typing, sorted.
func (s *Synchronizer) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.typing))
	for _, name := range s.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadMarkerID returns the ID of the message that should carry the "Read"
// marker: the local user's most recent message, and only when another
// participant has seen it. At most one message ever carries the marker.
func (s *Synchronizer) ReadMarkerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.SenderID != s.selfID {
			continue
		}
		for _, reader := range m.ReadBy {
			if reader != s.selfID {
				return m.ID
			}
		}
		return ""
	}
	return ""
}

// Peer resolves the other participant's identity for the conversation
// header.
func (s *Synchronizer) Peer(ctx context.Context, peerID string) (*domain.UserIdentity, error) {
	return s.api.LookupUser(ctx, peerID)
}

// Close unsubscribes from the channel, stops all local timers, and
// disconnects the channel so no leaked timer acts on stale state.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	if s.inputTimer != nil {
		s.inputTimer.Stop()
		s.inputTimer = nil
	}
	for id, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.ch.Off(sub.name, sub.id)
	}
	s.ch.Disconnect()
}

// onMessage ingests a live message echo: deduplicate by ID, append, and
// re-sort so the chronological invariant holds even when frames arrive out
// of sequence. The sort is stable, so equal timestamps keep insertion order.
func (s *Synchronizer) onMessage(payload any) {
	f, ok := payload.(*domain.Frame)
	if !ok || f.Message == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == f.Message.ID {
			return
		}
	}
	s.msgs = append(s.msgs, *f.Message)
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].CreatedAt.Before(s.msgs[j].CreatedAt)
	})
}

// onRead folds a read acknowledgement into every message the reader had not
// yet seen. Read state only ever grows.
func (s *Synchronizer) onRead(payload any) {
	f, ok := payload.(*domain.Frame)
	if !ok || f.User == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		s.msgs[i].MarkReadBy(f.User)
	}
}

// onTyping upserts the typing indicator for a peer and arms a local timeout
// in case the stop frame is lost.
func (s *Synchronizer) onTyping(payload any) {
	f, ok := payload.(*domain.Frame)
	if !ok || f.UserID == "" || f.UserID == s.selfID {
		return
	}
	if !f.Typing {
		s.removeTyping(f.UserID)
		return
	}

	name := f.UserName
	if name == "" {
		name = f.UserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.typing[f.UserID] = name
	if t, ok := s.typingTimers[f.UserID]; ok {
		t.Stop()
	}
	userID := f.UserID
	s.typingTimers[userID] = time.AfterFunc(s.typingTimeout, func() {
		s.removeTyping(userID)
	})
}

func (s *Synchronizer) onStopTyping(payload any) {
	f, ok := payload.(*domain.Frame)
	if !ok || f.UserID == "" {
		return
	}
	s.removeTyping(f.UserID)
}

func (s *Synchronizer) removeTyping(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typing, userID)
	if t, ok := s.typingTimers[userID]; ok {
		t.Stop()
		delete(s.typingTimers, userID)
	}
}

func (s *Synchronizer) cancelInputTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputTimer != nil {
		s.inputTimer.Stop()
		s.inputTimer = nil
	}
}

// reversed returns a new slice with the page flipped from newest-first to
// chronological order.
func reversed(page []domain.Message) []domain.Message {
	out := make([]domain.Message, len(page))
	for i, m := range page {
		out[len(page)-1-i] = m
	}
	return out
}
