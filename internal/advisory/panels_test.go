package advisory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var panelTime = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func openPanels(sessions ...string) *Panels {
	p := openPanels("s1")
	for _, id := range sessions {
		p.Open(id)
	}
	return p
}

func begin(t *testing.T, p *Panels, sessionID string, kind PanelKind) uint64 {
	t.Helper()
	ticket, ok := p.Begin(sessionID, kind)
	require.True(t, ok)
	return ticket
}

func TestPanels_LoadingThenResult(t *testing.T) {
	p := openPanels("s1")

	ticket := begin(t, p, "s1", PanelAnalysis)
	got := p.Get("s1")
	assert.True(t, got[PanelAnalysis].Loading)
	assert.False(t, got[PanelCompliance].Loading)

	assert.True(t, p.Complete("s1", PanelAnalysis, ticket, "", "report", panelTime))
	got = p.Get("s1")
	assert.False(t, got[PanelAnalysis].Loading)
	assert.Equal(t, "report", got[PanelAnalysis].Text)
	require.NotNil(t, got[PanelAnalysis].UpdatedAt)
	assert.Equal(t, panelTime, *got[PanelAnalysis].UpdatedAt)
}

func TestPanels_StaleCompletionDiscarded(t *testing.T) {
	p := openPanels("s1")

	first := begin(t, p, "s1", PanelCompliance)
	second := begin(t, p, "s1", PanelCompliance)

	assert.True(t, p.Complete("s1", PanelCompliance, second, StandardGDPR, "gdpr", panelTime))
	assert.False(t, p.Complete("s1", PanelCompliance, first, StandardNIST, "nist", panelTime.Add(time.Second)))

	got := p.Get("s1")[PanelCompliance]
	assert.Equal(t, "gdpr", got.Text)
	assert.Equal(t, StandardGDPR, got.Standard)
	assert.False(t, got.Loading)
}

func TestPanels_OlderCompletionKeepsLoading(t *testing.T) {
	p := openPanels("s1")

	first := begin(t, p, "s1", PanelAnalysis)
	second := begin(t, p, "s1", PanelAnalysis)

	assert.True(t, p.Complete("s1", PanelAnalysis, first, "", "old", panelTime))
	assert.True(t, p.Get("s1")[PanelAnalysis].Loading)

	assert.True(t, p.Complete("s1", PanelAnalysis, second, "", "new", panelTime))
	got := p.Get("s1")[PanelAnalysis]
	assert.False(t, got.Loading)
	assert.Equal(t, "new", got.Text)
}

func TestPanels_SessionsAreIsolated(t *testing.T) {
	p := openPanels("s1")

	ticket := begin(t, p, "s1", PanelAnalysis)
	p.Complete("s1", PanelAnalysis, ticket, "", "mine", panelTime)

	assert.Empty(t, p.Get("s2")[PanelAnalysis].Text)
}

func TestPanels_Drop(t *testing.T) {
	p := openPanels("s1")

	ticket := begin(t, p, "s1", PanelAnalysis)
	p.Drop("s1")

	assert.False(t, p.Complete("s1", PanelAnalysis, ticket, "", "late", panelTime))
	assert.Equal(t, Panel{}, p.Get("s1")[PanelAnalysis])
}

func TestPanels_BeginAfterDropIsIgnored(t *testing.T) {
	p := openPanels("s1")
	p.Drop("s1")

	_, ok := p.Begin("s1", PanelCompliance)
	assert.False(t, ok)
	assert.Equal(t, Panel{}, p.Get("s1")[PanelCompliance])

	_, ok = p.Begin("never-opened", PanelAnalysis)
	assert.False(t, ok)
}

func TestPanels_OpenKeepsExistingResults(t *testing.T) {
	p := openPanels("s1")
	ticket := begin(t, p, "s1", PanelAnalysis)
	p.Complete("s1", PanelAnalysis, ticket, "", "kept", panelTime)

	p.Open("s1")
	assert.Equal(t, "kept", p.Get("s1")[PanelAnalysis].Text)
}
