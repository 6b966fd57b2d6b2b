package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordSubmit("high")
	c.RecordLaunch("new")
	c.RecordSkip()
	c.RecordLaunchFailure()
	c.RecordAdmission(true)
	c.RecordPublish()
	c.RecordConsume()
	c.RecordDuplicate()
	c.RecordOrphan()
	c.RecordRecovered()
	c.RecordReward()
	c.SetQueueDepth(3)
}

func TestCollectorExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordLaunch("new")
	c.RecordLaunch("restart")
	c.RecordAdmission(false)
	c.RecordPublish()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `harvest_jobs_launched_total{mode="new"} 1`)
	assert.Contains(t, body, `harvest_jobs_launched_total{mode="restart"} 1`)
	assert.Contains(t, body, "harvest_rate_rejected_total 1")
	assert.Contains(t, body, "harvest_events_published_total 1")
}

func TestSeparateCollectorsDoNotCollide(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.RecordPublish()
	b.RecordPublish()
	b.RecordPublish()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "harvest_events_published_total 2")
}
