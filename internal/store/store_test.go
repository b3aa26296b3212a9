package store

import (
	"path/filepath"
	"testing"
	"time"

	"komadori/internal/timelapse"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()

	h, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("履歴データベースのオープンに失敗しました: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func testRecord(id string, startedAt time.Time) timelapse.RunRecord {
	return timelapse.RunRecord{
		ID:            id,
		OutputDir:     "/data/timelapse_20260825_143005",
		StartedAt:     startedAt,
		EndedAt:       startedAt.Add(time.Minute),
		FramesSaved:   30,
		FramesPlanned: 30,
		VideoFPS:      30,
		EncodeStatus:  timelapse.EncodeSuccess,
		VideoPath:     "/data/timelapse_20260825_143005/timelapse.mp4",
		VideoSize:     1024 * 1024,
	}
}

// TestHistorySaveAndList は実行記録の保存と取得をテストする
func TestHistorySaveAndList(t *testing.T) {
	h := openTestHistory(t)

	base := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		rec := testRecord(id, base.Add(time.Duration(i)*time.Hour))
		if err := h.SaveRun(rec); err != nil {
			t.Fatalf("実行記録の保存に失敗しました: %v", err)
		}
	}

	records, err := h.ListRuns(0)
	if err != nil {
		t.Fatalf("実行記録の取得に失敗しました: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("件数が一致しません: got %d, want 3", len(records))
	}

	// 開始時刻の新しい順
	if records[0].ID != "run-3" || records[2].ID != "run-1" {
		t.Errorf("並び順が一致しません: %s, %s, %s", records[0].ID, records[1].ID, records[2].ID)
	}

	// フィールドが往復すること
	got := records[2]
	if got.FramesSaved != 30 || got.VideoFPS != 30 {
		t.Errorf("記録の内容が一致しません: %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("開始時刻が一致しません: got %v, want %v", got.StartedAt, base)
	}
	if got.VideoSize != 1024*1024 {
		t.Errorf("動画サイズが一致しません: got %d", got.VideoSize)
	}
}

// TestHistoryListLimit は取得件数の制限をテストする
func TestHistoryListLimit(t *testing.T) {
	h := openTestHistory(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		rec := testRecord(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := h.SaveRun(rec); err != nil {
			t.Fatalf("実行記録の保存に失敗しました: %v", err)
		}
	}

	records, err := h.ListRuns(2)
	if err != nil {
		t.Fatalf("実行記録の取得に失敗しました: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("件数が制限されていません: got %d, want 2", len(records))
	}
}

// TestHistorySaveOverwrite は同一IDの上書き保存をテストする
func TestHistorySaveOverwrite(t *testing.T) {
	h := openTestHistory(t)

	rec := testRecord("run-1", time.Now())
	if err := h.SaveRun(rec); err != nil {
		t.Fatalf("実行記録の保存に失敗しました: %v", err)
	}

	rec.EncodeStatus = timelapse.EncodeFailed
	rec.VideoPath = ""
	rec.VideoSize = 0
	if err := h.SaveRun(rec); err != nil {
		t.Fatalf("実行記録の上書きに失敗しました: %v", err)
	}

	records, err := h.ListRuns(0)
	if err != nil {
		t.Fatalf("実行記録の取得に失敗しました: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("上書きで件数が増えています: got %d", len(records))
	}
	if records[0].EncodeStatus != timelapse.EncodeFailed {
		t.Errorf("上書き後の内容が一致しません: %+v", records[0])
	}
}

// TestHistoryEmpty は記録なしでの取得をテストする
func TestHistoryEmpty(t *testing.T) {
	h := openTestHistory(t)

	records, err := h.ListRuns(0)
	if err != nil {
		t.Fatalf("実行記録の取得に失敗しました: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("空の履歴から記録が返されています: %d件", len(records))
	}
}
