package mesh

// frameSender is the part of a Link the history store writes to.
type frameSender interface {
	ID() PeerID
	send(data []byte) error
}

// HistoryStore is the bounded, ordered buffer of previously seen
// broadcast envelopes. It replays them to new links and answers
// anti-entropy requests.
type HistoryStore struct {
	self           PeerID
	max            int
	replayDirected bool

	entries []Envelope
	index   map[string]struct{}
}

// NewHistoryStore creates an empty store holding at most max envelopes.
func NewHistoryStore(self PeerID, max int, replayDirected bool) *HistoryStore {
	return &HistoryStore{
		self:           self,
		max:            max,
		replayDirected: replayDirected,
		index:          make(map[string]struct{}),
	}
}

// Add appends env unless its message id is already buffered. The oldest
// entries are evicted while the buffer exceeds its bound. Directed
// envelopes are skipped unless the store replays them.
func (h *HistoryStore) Add(env Envelope) bool {
	if env.Directed() && !h.replayDirected {
		return false
	}
	if _, ok := h.index[env.MessageID]; ok {
		return false
	}

	h.entries = append(h.entries, env)
	h.index[env.MessageID] = struct{}{}

	for len(h.entries) > h.max {
		delete(h.index, h.entries[0].MessageID)
		h.entries[0] = Envelope{}
		h.entries = h.entries[1:]
	}
	return true
}

// Len returns the number of buffered envelopes.
func (h *HistoryStore) Len() int {
	return len(h.entries)
}

// Has reports whether messageID is buffered.
func (h *HistoryStore) Has(messageID string) bool {
	_, ok := h.index[messageID]
	return ok
}

// Entries returns a copy of the buffer in receipt order.
func (h *HistoryStore) Entries() []Envelope {
	out := make([]Envelope, len(h.entries))
	copy(out, h.entries)
	return out
}

// IDs returns the buffered message ids in receipt order.
func (h *HistoryStore) IDs() []string {
	ids := make([]string, len(h.entries))
	for i, env := range h.entries {
		ids[i] = env.MessageID
	}
	return ids
}

// Missing returns the buffered envelopes whose ids are not in known.
func (h *HistoryStore) Missing(known []string) []Envelope {
	have := make(map[string]struct{}, len(known))
	for _, id := range known {
		have[id] = struct{}{}
	}

	var out []Envelope
	for _, env := range h.entries {
		if _, ok := have[env.MessageID]; !ok {
			out = append(out, env)
		}
	}
	return out
}

// relayed returns a copy of env stamped with the local peer as gossiper.
func (h *HistoryStore) relayed(env Envelope) *Envelope {
	env.GossiperID = h.self
	return &env
}

// Replay unicasts every buffered envelope to l in receipt order. It stops
// at the first send failure and returns the number of envelopes written.
func (h *HistoryStore) Replay(l frameSender) (int, error) {
	for i, env := range h.entries {
		data, err := EncodeFrame(Frame{Kind: FrameGossip, Envelope: h.relayed(env)})
		if err != nil {
			return i, err
		}
		if err := l.send(data); err != nil {
			return i, err
		}
	}
	return len(h.entries), nil
}

// Request advertises the buffered ids to l so it can return what this
// side lacks.
func (h *HistoryStore) Request(l frameSender) error {
	data, err := EncodeFrame(Frame{Kind: FrameHistoryRequest, Known: h.IDs()})
	if err != nil {
		return err
	}
	return l.send(data)
}

// Answer sends l the buffered envelopes missing from known. Nothing is
// sent when l already has everything.
func (h *HistoryStore) Answer(l frameSender, known []string) (int, error) {
	missing := h.Missing(known)
	if len(missing) == 0 {
		return 0, nil
	}
	for i := range missing {
		missing[i].GossiperID = h.self
	}

	data, err := EncodeFrame(Frame{Kind: FrameHistoryResponse, Envelopes: missing})
	if err != nil {
		return 0, err
	}
	if err := l.send(data); err != nil {
		return 0, err
	}
	return len(missing), nil
}
