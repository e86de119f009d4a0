package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/content"
	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/perf"
	"git.handmade.network/hmn/tutorials/src/resolver"
	"git.handmade.network/hmn/tutorials/src/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerfRecords(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }
	op := &perf.OpPerf{
		Name:  "publish",
		Start: start,
		End:   at(100),
		Blocks: []perf.PerfBlock{
			{Start: at(0), End: at(60), Category: "RENDER", Description: "Stage publication"},
			{Start: at(10), End: at(20), Category: "FS", Description: "write html"},
			{Start: at(70), End: at(90), Category: "SQL", Description: "insert"},
		},
	}

	records := PerfRecords([]*perf.OpPerf{op})
	require.Len(t, records, 1)
	assert.Equal(t, "publish", records[0].Name)
	assert.EqualValues(t, 100_000, records[0].Duration)

	top := records[0].Breakdown.Children
	require.Len(t, top, 2)
	assert.Equal(t, "RENDER", top[0].Category)
	require.Len(t, top[0].Children, 1)
	assert.Equal(t, "FS", top[0].Children[0].Category)
	assert.EqualValues(t, 10_000, top[0].Children[0].Offset)
	assert.Equal(t, "SQL", top[1].Category)
}

func TestPrivateRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	collector := perf.RunPerfCollector(ctx)
	op := perf.MakeNewOpPerf("retry artifacts")
	op.StartBlock("RENDER", "pdf of publication 1").End()
	op.EndOp()
	collector.SubmitOp(op)

	srv := httptest.NewServer(NewPrivateRoutes(collector))
	defer srv.Close()

	t.Run("metrics", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Contains(t, string(body), "tutorials_revocations_total")
	})

	t.Run("pprof", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/debug/pprof/")
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("perf", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/perf?n=5")
		require.NoError(t, err)
		defer res.Body.Close()
		var records []PerfRecord
		require.NoError(t, json.NewDecoder(res.Body).Decode(&records))
		require.Len(t, records, 1)
		assert.Equal(t, "retry artifacts", records[0].Name)
		require.Len(t, records[0].Breakdown.Children, 1)
		assert.Equal(t, "RENDER", records[0].Breakdown.Children[0].Category)
	})
}

// The whole pipeline over the in-memory store: write, review, publish, read.
func TestWirePipeline(t *testing.T) {
	ctx := context.Background()
	cfg := config.TutorialsConfig{
		Content:  config.ContentConfig{PublicRoot: t.TempDir()},
		Artifact: config.ArtifactConfig{RetryMin: time.Minute, RetryMax: time.Hour, RetryAttempts: 3},
	}
	store := contentdata.NewMemory()
	services, err := Wire(ctx, cfg, store, gitstore.NewMemoryProvider(), nil)
	require.NoError(t, err)
	defer services.Close()

	author, err := store.CreateUser(ctx, models.User{Username: "author"})
	require.NoError(t, err)
	validator, err := store.CreateUser(ctx, models.User{Username: "validator", IsValidator: true})
	require.NoError(t, err)

	c, err := services.Contents.Create(ctx, author, content.CreateInput{Type: models.ContentTypeTutorial, Title: "Handmade Hero Notes"})
	require.NoError(t, err)
	_, err = services.Contents.AddContainer(ctx, author, c.ID, nil, "Day 1", "", "")
	require.NoError(t, err)
	_, err = services.Contents.AddExtract(ctx, author, c.ID, []string{"day-1"}, "Setup", "Install a compiler.")
	require.NoError(t, err)

	v, err := services.Validation.Ask(ctx, author, c.ID, "ready")
	require.NoError(t, err)
	_, err = services.Validation.Reserve(ctx, validator, v.ID)
	require.NoError(t, err)
	accepted, res, err := services.Validation.Accept(ctx, validator, v.ID, validation.AcceptOptions{Comment: "nice"})
	require.NoError(t, err)
	assert.Equal(t, models.ValidationStatusAccepted, accepted.Status)
	assert.Empty(t, res.Failed)

	resolved, err := services.Resolver.Resolve(ctx, nil, resolver.Query{
		ContentID: c.ID,
		Slug:      res.Published.PublicSlug,
		Path:      []string{"day-1", "setup"},
	})
	require.NoError(t, err)
	assert.True(t, resolved.FromPublic())
	assert.Equal(t, "Setup", resolved.Node.NodeTitle())

	sizes, err := services.Publications.ArtifactSizes(ctx, res.Published)
	require.NoError(t, err)
	assert.Contains(t, sizes, models.ArtifactHTML)
	assert.Contains(t, sizes, models.ArtifactMarkdown)
}
