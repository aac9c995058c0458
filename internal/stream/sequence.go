package stream

import (
	"sort"

	"github.com/matfraga/papo/internal/store"
)

// sequence holds one open chat's messages in display order. Ordering is
// total: (sent_at, local_id) ascending. Server ids are unique within the
// chat; a second arrival of a known server id updates in place.
type sequence struct {
	chatID  string
	msgs    []*store.Message
	byLocal map[string]*store.Message
	// byServer maps server id to local id for dedup.
	byServer map[string]string
	// pending tracks optimistic sends awaiting their broker echo, in send
	// order. Bounded; overflow evicts the oldest entry, which then simply
	// stays pending until its confirmation matches by server id or never.
	pending    []string
	maxPending int
}

func newSequence(chatID string, maxPending int) *sequence {
	if maxPending <= 0 {
		maxPending = 32
	}
	return &sequence{
		chatID:     chatID,
		byLocal:    make(map[string]*store.Message),
		byServer:   make(map[string]string),
		maxPending: maxPending,
	}
}

// insert places a message at its ordered position. Returns the message as
// stored (the existing row on dedup) and whether it was new.
func (s *sequence) insert(m *store.Message) (*store.Message, bool) {
	if m.ServerID != "" {
		if localID, ok := s.byServer[m.ServerID]; ok {
			existing := s.byLocal[localID]
			existing.Body = m.Body
			existing.Delivery = store.DeliveryConfirmed
			return existing, false
		}
	}
	if existing, ok := s.byLocal[m.LocalID]; ok {
		existing.Body = m.Body
		existing.Delivery = m.Delivery
		if m.ServerID != "" && existing.ServerID == "" {
			existing.ServerID = m.ServerID
			s.byServer[m.ServerID] = existing.LocalID
		}
		return existing, false
	}

	i := sort.Search(len(s.msgs), func(i int) bool {
		if s.msgs[i].SentAt != m.SentAt {
			return s.msgs[i].SentAt > m.SentAt
		}
		return s.msgs[i].LocalID > m.LocalID
	})
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m

	s.byLocal[m.LocalID] = m
	if m.ServerID != "" {
		s.byServer[m.ServerID] = m.LocalID
	}
	return m, true
}

// appendLocal records an optimistic send and tracks it in the pending
// window.
func (s *sequence) appendLocal(m *store.Message) {
	s.insert(m)
	s.pending = append(s.pending, m.LocalID)
	if len(s.pending) > s.maxPending {
		s.pending = s.pending[1:]
	}
}

// reconcile matches a broker echo of an own send against the pending
// window. The oldest pending entry with the same body absorbs the echo:
// it gains the server id and flips to confirmed while keeping its local
// sent_at, so the row does not jump in the ordering. Echoes with no match
// insert as new rows (sends from another device).
func (s *sequence) reconcile(echo *store.Message) (*store.Message, bool) {
	if localID, ok := s.byServer[echo.ServerID]; ok && echo.ServerID != "" {
		existing := s.byLocal[localID]
		existing.Delivery = store.DeliveryConfirmed
		return existing, false
	}

	for i, localID := range s.pending {
		m := s.byLocal[localID]
		if m == nil || m.Delivery != store.DeliveryPending || m.Body != echo.Body {
			continue
		}
		m.ServerID = echo.ServerID
		m.Delivery = store.DeliveryConfirmed
		if echo.ServerID != "" {
			s.byServer[echo.ServerID] = m.LocalID
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		return m, false
	}

	return s.insert(echo)
}

// markFailed flips an optimistic send to failed and drops it from the
// pending window.
func (s *sequence) markFailed(localID string) bool {
	m, ok := s.byLocal[localID]
	if !ok {
		return false
	}
	m.Delivery = store.DeliveryFailed
	for i, id := range s.pending {
		if id == localID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns the ordered messages as copies.
func (s *sequence) snapshot() []store.Message {
	out := make([]store.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

func (s *sequence) newest() *store.Message {
	if len(s.msgs) == 0 {
		return nil
	}
	return s.msgs[len(s.msgs)-1]
}
