package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/keagan/clipcannon/internal/clips"
	"github.com/keagan/clipcannon/internal/config"
	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Projection mirrors creators, videos, clips and uploads into Postgres for reporting.
// The core never reads it back; a nil db turns every write into a no-op.
type Projection struct {
	logger  zerolog.Logger
	db      *sql.DB
	timeout time.Duration
}

func NewProjection(logger zerolog.Logger, db *sql.DB) *Projection {
	return &Projection{
		logger:  logger.With().Str("component", "sql-projection").Logger(),
		db:      db,
		timeout: 5 * time.Second,
	}
}

var _ publish.Observer = (*Projection)(nil)

func upsertCreatorQuery(cr config.Creator) sq.InsertBuilder {
	return psql.Insert("creators").
		Columns("id", "name", "platform", "source_url", "license_type", "post_channel_id",
			"brand_preset", "max_daily", "shorts_only", "enabled").
		Values(cr.ID, cr.Name, cr.Platform, cr.SourceURL, cr.LicenseType, cr.PostChannelID,
			cr.BrandPreset, cr.MaxDaily, cr.ShortsOnly, cr.Enabled).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			platform = EXCLUDED.platform,
			source_url = EXCLUDED.source_url,
			license_type = EXCLUDED.license_type,
			post_channel_id = EXCLUDED.post_channel_id,
			brand_preset = EXCLUDED.brand_preset,
			max_daily = EXCLUDED.max_daily,
			shorts_only = EXCLUDED.shorts_only,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()`)
}

func upsertVideoQuery(v pipeline.SourceVideo) sq.InsertBuilder {
	return psql.Insert("videos").
		Columns("id", "creator_id", "title", "duration_s", "media_path").
		Values(v.ID, v.Creator, v.Title, v.Duration, v.MediaPath).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			duration_s = EXCLUDED.duration_s,
			media_path = EXCLUDED.media_path`)
}

func upsertClipQuery(s clips.Spec) sq.InsertBuilder {
	return psql.Insert("clips").
		Columns("id", "video_id", "start_s", "end_s", "title", "reason", "snippet", "composite_score", "artifact").
		Values(s.ClipID, s.VideoID, s.Start, s.End, s.Title, s.Reason, s.Snippet, s.Score, s.Artifact).
		Suffix(`ON CONFLICT (id) DO UPDATE SET artifact = EXCLUDED.artifact`)
}

// upsertUploadQuery never moves a terminal row backwards.
func upsertUploadQuery(rec publish.Record) sq.InsertBuilder {
	var flip interface{}
	if rec.ScheduledFlipAt != nil {
		flip = *rec.ScheduledFlipAt
	}
	return psql.Insert("uploads").
		Columns("clip_id", "platform", "state", "remote_video_id", "visibility", "claim_status",
			"attempts", "claim_attempts", "scheduled_flip_at", "error", "updated_at").
		Values(rec.ClipID, rec.Platform, string(rec.State), rec.RemoteVideoID, string(rec.Visibility),
			string(rec.ClaimStatus), rec.Attempts, rec.ClaimAttempts, flip, rec.Error, rec.UpdatedAt).
		Suffix(`ON CONFLICT (clip_id) DO UPDATE SET
			state = EXCLUDED.state,
			remote_video_id = EXCLUDED.remote_video_id,
			visibility = EXCLUDED.visibility,
			claim_status = EXCLUDED.claim_status,
			attempts = EXCLUDED.attempts,
			claim_attempts = EXCLUDED.claim_attempts,
			scheduled_flip_at = EXCLUDED.scheduled_flip_at,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
			WHERE uploads.updated_at <= EXCLUDED.updated_at
			AND uploads.state NOT IN ('public', 'claimed', 'struck', 'failed')`)
}

func (p *Projection) exec(ctx context.Context, what string, q sq.Sqlizer) error {
	if p.db == nil {
		return nil
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", what, err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", what, err)
	}
	return nil
}

func (p *Projection) UpsertCreator(ctx context.Context, cr config.Creator) error {
	return p.exec(ctx, "creator", upsertCreatorQuery(cr))
}

func (p *Projection) UpsertVideo(ctx context.Context, v pipeline.SourceVideo) error {
	return p.exec(ctx, "video", upsertVideoQuery(v))
}

func (p *Projection) UpsertClip(ctx context.Context, s clips.Spec) error {
	return p.exec(ctx, "clip", upsertClipQuery(s))
}

func (p *Projection) UpsertUpload(ctx context.Context, rec publish.Record) error {
	return p.exec(ctx, "upload", upsertUploadQuery(rec))
}

var _ pipeline.Recorder = (*Projection)(nil)

// OnTransition mirrors every publish transition. Projection failures are logged, never propagated.
func (p *Projection) OnTransition(rec publish.Record, t publish.Transition) {
	if p.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.UpsertUpload(ctx, rec); err != nil {
		p.logger.Warn().Err(err).
			Str("clip_id", rec.ClipID).
			Str("to", string(t.To)).
			Msg("projection write failed")
	}
}

func uploadStatesQuery(clipIDs []string) sq.SelectBuilder {
	return psql.Select("clip_id", "state").
		From("uploads").
		Where("clip_id::text = ANY(?)", pq.StringArray(clipIDs))
}

// UploadStates reports the projected state of each known clip.
func (p *Projection) UploadStates(ctx context.Context, clipIDs []string) (map[string]publish.State, error) {
	result := make(map[string]publish.State)
	if p.db == nil || len(clipIDs) == 0 {
		return result, nil
	}

	query, args, err := uploadStatesQuery(clipIDs).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build upload states: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query upload states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("scan upload state: %w", err)
		}
		result[id] = publish.State(state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}
