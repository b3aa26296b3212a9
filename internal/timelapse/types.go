package timelapse

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Config はタイムラプス撮影の設定
type Config struct {
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"` // 撮影間隔（秒）
	TotalSeconds    int `yaml:"total_seconds" json:"total_seconds"`       // 総撮影時間（秒）
	VideoFPS        int `yaml:"video_fps" json:"video_fps"`               // 動画のフレームレート
}

// DefaultConfig はデフォルトのタイムラプス設定を返す
func DefaultConfig() Config {
	return Config{
		IntervalSeconds: 2,
		TotalSeconds:    60,
		VideoFPS:        30,
	}
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	if c.IntervalSeconds < 1 {
		return fmt.Errorf("撮影間隔は1秒以上である必要があります: %d", c.IntervalSeconds)
	}
	if c.TotalSeconds < 0 {
		return fmt.Errorf("総撮影時間は0秒以上である必要があります: %d", c.TotalSeconds)
	}
	if c.VideoFPS < 1 {
		return fmt.Errorf("動画フレームレートは1以上である必要があります: %d", c.VideoFPS)
	}
	return nil
}

// FrameCount は予測フレーム数を返す（ceil(総時間/間隔)）
// 総撮影時間が0のときだけ0になる
func (c Config) FrameCount() int {
	if c.IntervalSeconds < 1 || c.TotalSeconds <= 0 {
		return 0
	}
	return (c.TotalSeconds + c.IntervalSeconds - 1) / c.IntervalSeconds
}

// VideoDurationSeconds は予測される動画の長さ（秒）を返す
func (c Config) VideoDurationSeconds() int {
	frames := c.FrameCount()
	if frames == 0 || c.VideoFPS < 1 {
		return 0
	}
	return int(math.Round(float64(frames) / float64(c.VideoFPS)))
}

// Interval は撮影間隔をtime.Durationで返す
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Run は1回のタイムラプス撮影セッションを表す
// 開始コマンドで作られ、停止または締め切り到達で論理的に閉じられる
type Run struct {
	ID         string    // 実行の一意識別子
	OutputDir  string    // フレームと動画の出力先
	StartTime  time.Time // 撮影開始時刻
	Deadline   time.Time // 撮影終了の締め切り（StartTime + 総撮影時間）
	FrameCount int       // 予測フレーム数（予測であり保証ではない）
	SavedCount int       // 保存済みフレーム数（実行中は単調増加）
	Config     Config    // この実行に使った設定
}

// NewRun は新しいRunを作成する
// 出力先は <baseDir>/timelapse_<YYYYMMDD>_<HHMMSS>/ になる
func NewRun(baseDir string, cfg Config, now time.Time) *Run {
	return &Run{
		ID:         uuid.New().String(),
		OutputDir:  filepath.Join(baseDir, now.Format("timelapse_20060102_150405")),
		StartTime:  now,
		Deadline:   now.Add(time.Duration(cfg.TotalSeconds) * time.Second),
		FrameCount: cfg.FrameCount(),
		Config:     cfg,
	}
}

// FramePath はn番目（0始まり）のフレームファイルのパスを返す
func (r *Run) FramePath(n int) string {
	return filepath.Join(r.OutputDir, fmt.Sprintf("frame_%05d.jpg", n))
}

// VideoPath は生成される動画ファイルのパスを返す
func (r *Run) VideoPath() string {
	return filepath.Join(r.OutputDir, "timelapse.mp4")
}

// State はエンジンの状態を表す
type State string

// State の定数定義
// プレビューの有効/無効は状態と直交するフラグとして扱う
const (
	StateIdle     State = "idle"     // 待機中
	StateRunning  State = "running"  // 撮影中
	StateEncoding State = "encoding" // 動画エンコード中
)

// EncodeStatus はエンコード結果の分類
const (
	EncodeSuccess = "success" // エンコード成功
	EncodeFailed  = "failed"  // エンコード失敗（終了コード非0）
	EncodeSkipped = "skipped" // フレーム0件のためスキップ
)

// RunRecord は完了した撮影セッションの記録
type RunRecord struct {
	ID            string    `json:"id"`
	OutputDir     string    `json:"output_dir"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	FramesSaved   int       `json:"frames_saved"`
	FramesPlanned int       `json:"frames_planned"`
	VideoFPS      int       `json:"video_fps"`
	EncodeStatus  string    `json:"encode_status"` // success / failed / skipped
	VideoPath     string    `json:"video_path,omitempty"`
	VideoSize     int64     `json:"video_size"`
}

// RunRecorder は撮影履歴の永続化を担うインターフェース
type RunRecorder interface {
	// SaveRun は1回の実行記録を保存する
	SaveRun(record RunRecord) error
}
