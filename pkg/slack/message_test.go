package slack

import (
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/models"
)

func sampleRule() *models.AlertRule {
	rule := &models.AlertRule{
		UserID:        "alice",
		Name:          "queue depth spike",
		Metric:        "queue_depth",
		Condition:     models.ConditionGT,
		Threshold:     10,
		WindowMinutes: 5,
		Channels:      models.StringList{models.ChannelSlack},
	}
	rule.ID = "rule-1"
	return rule
}

// sampleFiring returns an open episode when resolvedAfter is zero, otherwise
// one resolved that long after it triggered.
func sampleFiring(resolvedAfter time.Duration) *models.AlertFiring {
	firing := &models.AlertFiring{
		RuleID:      "rule-1",
		UserID:      "alice",
		Metric:      "queue_depth",
		MetricValue: 50,
		Message:     "queue depth spike: queue_depth gt 10 (current 50)",
		TriggeredAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	firing.ID = "firing-1"
	if resolvedAfter > 0 {
		resolved := firing.TriggeredAt.Add(resolvedAfter)
		firing.ResolvedAt = &resolved
	}
	return firing
}

func TestBuildFiringMessage(t *testing.T) {
	fallback, blocks := BuildFiringMessage(sampleRule(), sampleFiring(0), "https://gpilot.example.com")

	assert.Contains(t, fallback, "[alert:firing-1]")
	assert.Contains(t, fallback, "queue depth spike: queue_depth gt 10 (current 50)")

	require.Len(t, blocks, 3)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, ":rotating_light:")
	assert.Contains(t, header.Text.Text, "Alert firing: queue depth spike")

	detail := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, detail.Text.Text, "`queue_depth > 10`")
	assert.Contains(t, detail.Text.Text, "last 5m")
	assert.Contains(t, detail.Text.Text, "*50*")

	action := blocks[2].(*goslack.ActionBlock)
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "View Alerts", btn.Text.Text)
	assert.Equal(t, "https://gpilot.example.com/alerts", btn.URL)
}

func TestBuildFiringMessage_NoDashboardURL(t *testing.T) {
	_, blocks := BuildFiringMessage(sampleRule(), sampleFiring(0), "")

	require.Len(t, blocks, 2)
	for _, block := range blocks {
		_, isAction := block.(*goslack.ActionBlock)
		assert.False(t, isAction)
	}
}

func TestBuildResolvedMessage(t *testing.T) {
	firing := sampleFiring(45 * time.Minute)
	fallback, blocks := BuildResolvedMessage(sampleRule(), firing)

	assert.Equal(t, "Alert resolved: queue depth spike", fallback)
	assert.NotContains(t, fallback, Fingerprint(firing.ID))

	require.Len(t, blocks, 2)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")
	assert.Contains(t, header.Text.Text, "Alert resolved: queue depth spike")

	detail := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, detail.Text.Text, "`queue_depth` back within threshold after 45m0s")
}

func TestBuildResolvedMessage_OpenEpisode(t *testing.T) {
	_, blocks := BuildResolvedMessage(sampleRule(), sampleFiring(0))

	detail := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, detail.Text.Text, "back within threshold")
	assert.NotContains(t, detail.Text.Text, "after")
}
