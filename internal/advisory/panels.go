package advisory

import (
	"sync"
	"time"
)

type PanelKind string

const (
	PanelAnalysis   PanelKind = "analysis"
	PanelCompliance PanelKind = "compliance"
)

type Panel struct {
	Loading   bool       `json:"loading"`
	Text      string     `json:"text,omitempty"`
	Standard  Standard   `json:"standard,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type panelSlot struct {
	Panel
	issued  uint64
	applied uint64
}

// Panels keeps the latest advisory result per session and kind. A
// completion for an older request than the one already shown is
// discarded.
type Panels struct {
	mu    sync.Mutex
	slots map[string]map[PanelKind]*panelSlot
}

func NewPanels() *Panels {
	return &Panels{slots: make(map[string]map[PanelKind]*panelSlot)}
}

// Open registers a session. Begin only works for open sessions.
func (p *Panels) Open(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.slots[sessionID]; !ok {
		p.slots[sessionID] = make(map[PanelKind]*panelSlot)
	}
}

// Begin marks the panel loading and returns the ticket to hand back to
// Complete. It reports false when the session is not open.
func (p *Panels) Begin(sessionID string, kind PanelKind) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds, ok := p.slots[sessionID]
	if !ok {
		return 0, false
	}
	slot, ok := kinds[kind]
	if !ok {
		slot = &panelSlot{}
		kinds[kind] = slot
	}
	slot.issued++
	slot.Loading = true
	return slot.issued, true
}

// Complete stores text if ticket is newer than the shown result. It
// reports whether the result was applied.
func (p *Panels) Complete(sessionID string, kind PanelKind, ticket uint64, standard Standard, text string, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds, ok := p.slots[sessionID]
	if !ok {
		return false
	}
	slot, ok := kinds[kind]
	if !ok || ticket <= slot.applied {
		return false
	}

	slot.applied = ticket
	slot.Text = text
	slot.Standard = standard
	slot.UpdatedAt = &at
	slot.Loading = slot.applied < slot.issued
	return true
}

func (p *Panels) Get(sessionID string) map[PanelKind]Panel {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := map[PanelKind]Panel{
		PanelAnalysis:   {},
		PanelCompliance: {},
	}
	for kind, slot := range p.slots[sessionID] {
		out[kind] = slot.Panel
	}
	return out
}

// Drop forgets the session's panels. Late completions are ignored.
func (p *Panels) Drop(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.slots, sessionID)
}
