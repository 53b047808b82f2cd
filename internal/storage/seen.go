package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keagan/clipcannon/internal/seen"
)

// PostgresSeen is a seen store backed by a table whose primary key is the
// check-and-set primitive.
type PostgresSeen struct {
	db *sql.DB
}

func NewPostgresSeen(db *sql.DB) *PostgresSeen {
	return &PostgresSeen{db: db}
}

var _ seen.Store = (*PostgresSeen)(nil)

func admitQuery(videoID string) (string, []interface{}, error) {
	return psql.Insert("seen_videos").
		Columns("video_id").
		Values(videoID).
		Suffix("ON CONFLICT (video_id) DO NOTHING").
		ToSql()
}

// Admit inserts the id; only the insert that creates the row admits.
func (s *PostgresSeen) Admit(ctx context.Context, videoID string) (bool, error) {
	if videoID == "" {
		return false, errors.New("video id is empty")
	}
	query, args, err := admitQuery(videoID)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("admit %s: %w", videoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("admit %s: %w", videoID, err)
	}
	return n == 1, nil
}

func (s *PostgresSeen) Contains(ctx context.Context, videoID string) (bool, error) {
	query, args, err := psql.Select("1").From("seen_videos").Where("video_id = ?", videoID).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", videoID, err)
	}
	return true, nil
}

func (s *PostgresSeen) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_videos").Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return n, nil
}
