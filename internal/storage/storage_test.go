package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatorQuery(t *testing.T) {
	query, args, err := upsertCreatorQuery(config.Creator{ID: "chan", Name: "Chan", MaxDaily: 3, Enabled: true}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "INSERT INTO creators (id,name,platform,source_url,license_type,post_channel_id,brand_preset,max_daily,shorts_only,enabled)")
	assert.Contains(t, query, "VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)")
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE")
	require.Len(t, args, 10)
	assert.Equal(t, "chan", args[0])
	assert.Equal(t, 3, args[7])
}

func TestUpsertVideoAndClipQueries(t *testing.T) {
	query, args, err := upsertVideoQuery(pipeline.SourceVideo{ID: "v1", Creator: "chan", Duration: 600}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO videos (id,creator_id,title,duration_s,media_path) VALUES ($1,$2,$3,$4,$5)")
	assert.Equal(t, []interface{}{"v1", "chan", "", 600.0, ""}, args)

	spec := clips.Spec{ClipID: clips.ClipID("v1", 10, 40), VideoID: "v1", Start: 10, End: 40, Title: "t", Score: 0.8}
	query, args, err = upsertClipQuery(spec).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO clips")
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE SET artifact = EXCLUDED.artifact")
	assert.Len(t, args, 9)
}

func TestUpsertUploadQuery(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	flip := now.Add(24 * time.Hour)
	rec := publish.Record{
		ClipID:          "c1",
		Platform:        "youtube",
		State:           publish.StateClaimPending,
		Visibility:      publish.VisibilityUnlisted,
		ClaimStatus:     publish.ClaimUnknown,
		ScheduledFlipAt: &flip,
		UpdatedAt:       now,
	}

	query, args, err := upsertUploadQuery(rec).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)")
	assert.Contains(t, query, "uploads.state NOT IN ('public', 'claimed', 'struck', 'failed')")
	assert.Equal(t, "claim_pending", args[2])
	assert.Equal(t, flip, args[8])

	rec.ScheduledFlipAt = nil
	_, args, err = upsertUploadQuery(rec).ToSql()
	require.NoError(t, err)
	assert.Nil(t, args[8])
}

func TestUploadStatesQuery(t *testing.T) {
	query, args, err := uploadStatesQuery([]string{"a", "b"}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT clip_id, state FROM uploads WHERE clip_id::text = ANY($1)", query)
	assert.Equal(t, []interface{}{pq.StringArray{"a", "b"}}, args)
}

func TestAdmitQuery(t *testing.T) {
	query, args, err := admitQuery("vid")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO seen_videos (video_id) VALUES ($1) ON CONFLICT (video_id) DO NOTHING", query)
	assert.Equal(t, []interface{}{"vid"}, args)
}

func TestNilProjectionIsNoop(t *testing.T) {
	p := NewProjection(zerolog.Nop(), nil)
	ctx := context.Background()

	require.NoError(t, p.UpsertCreator(ctx, config.Creator{ID: "x"}))
	require.NoError(t, p.UpsertUpload(ctx, publish.Record{ClipID: "c"}))
	p.OnTransition(publish.Record{ClipID: "c"}, publish.Transition{To: publish.StateUploading})

	states, err := p.UploadStates(ctx, []string{"c"})
	require.NoError(t, err)
	assert.Empty(t, states)
}

// TestPostgresIntegration runs against a disposable database named by CLIPCANNON_TEST_POSTGRES.
func TestPostgresIntegration(t *testing.T) {
	url := os.Getenv("CLIPCANNON_TEST_POSTGRES")
	if url == "" {
		t.Skip("CLIPCANNON_TEST_POSTGRES not set")
	}
	ctx := context.Background()

	db, err := Open(ctx, url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))

	suffix := uuid.NewString()
	seenStore := NewPostgresSeen(db)
	videoID := "it-" + suffix

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := seenStore.Admit(ctx, videoID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	ok, err := seenStore.Contains(ctx, videoID)
	require.NoError(t, err)
	assert.True(t, ok)

	proj := NewProjection(zerolog.Nop(), db)
	creator := config.Creator{ID: "chan-" + suffix, Enabled: true}
	video := pipeline.SourceVideo{ID: videoID, Creator: creator.ID, Duration: 600}
	spec := clips.Spec{ClipID: clips.ClipID(videoID, 0, 30), VideoID: videoID, End: 30, Title: "t", Score: 0.5}
	require.NoError(t, proj.UpsertCreator(ctx, creator))
	require.NoError(t, proj.UpsertVideo(ctx, video))
	require.NoError(t, proj.UpsertClip(ctx, spec))

	now := time.Now().UTC()
	require.NoError(t, proj.UpsertUpload(ctx, publish.Record{ClipID: spec.ClipID, Platform: "youtube", State: publish.StatePublic, UpdatedAt: now}))
	require.NoError(t, proj.UpsertUpload(ctx, publish.Record{ClipID: spec.ClipID, Platform: "youtube", State: publish.StateUploading, UpdatedAt: now.Add(time.Second)}))

	states, err := proj.UploadStates(ctx, []string{spec.ClipID})
	require.NoError(t, err)
	assert.Equal(t, publish.StatePublic, states[spec.ClipID], fmt.Sprintf("terminal upload row for %s must not regress", spec.ClipID))
}
