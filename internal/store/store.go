// Package store はタイムラプス実行履歴のSQLite永続化を提供する
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"komadori/internal/timelapse"
)

// History は実行履歴を保持するSQLiteストア
// timelapse.RunRecorderを実装する
type History struct {
	db *sql.DB
}

// Open は履歴データベースを開く（存在しなければ作成する）
func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("履歴データベースのオープンに失敗: %w", err)
	}

	// WALモードで書き込み中の読み取りを許可する
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("WALモードの設定に失敗: %w", err)
	}

	// ロック競合時は即失敗せず5秒までリトライする
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("busy_timeoutの設定に失敗: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		output_dir TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		frames_saved INTEGER NOT NULL,
		frames_planned INTEGER NOT NULL,
		video_fps INTEGER NOT NULL,
		encode_status TEXT NOT NULL,
		video_path TEXT,
		video_size INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマの作成に失敗: %w", err)
	}

	return &History{db: db}, nil
}

// Close はデータベースを閉じる
func (h *History) Close() error {
	return h.db.Close()
}

// SaveRun は1回の実行記録を保存する
// 同じIDの記録は上書きされる
func (h *History) SaveRun(record timelapse.RunRecord) error {
	_, err := h.db.Exec(`
		INSERT OR REPLACE INTO runs
		(id, output_dir, started_at, ended_at, frames_saved, frames_planned,
		 video_fps, encode_status, video_path, video_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.OutputDir, record.StartedAt.Unix(), record.EndedAt.Unix(),
		record.FramesSaved, record.FramesPlanned,
		record.VideoFPS, record.EncodeStatus, record.VideoPath, record.VideoSize)

	if err != nil {
		return fmt.Errorf("実行記録の保存に失敗: %w", err)
	}
	return nil
}

// ListRuns は実行記録を開始時刻の新しい順に返す
// limitが0以下の場合は全件を返す
func (h *History) ListRuns(limit int) ([]timelapse.RunRecord, error) {
	query := `
		SELECT id, output_dir, started_at, ended_at, frames_saved, frames_planned,
		       video_fps, encode_status, video_path, video_size
		FROM runs
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("実行記録の取得に失敗: %w", err)
	}
	defer rows.Close()

	var records []timelapse.RunRecord
	for rows.Next() {
		var rec timelapse.RunRecord
		var startedAt, endedAt int64
		var videoPath sql.NullString

		if err := rows.Scan(&rec.ID, &rec.OutputDir, &startedAt, &endedAt,
			&rec.FramesSaved, &rec.FramesPlanned,
			&rec.VideoFPS, &rec.EncodeStatus, &videoPath, &rec.VideoSize); err != nil {
			return nil, fmt.Errorf("実行記録の読み取りに失敗: %w", err)
		}

		rec.StartedAt = time.Unix(startedAt, 0)
		rec.EndedAt = time.Unix(endedAt, 0)
		rec.VideoPath = videoPath.String
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行記録の走査に失敗: %w", err)
	}
	return records, nil
}
