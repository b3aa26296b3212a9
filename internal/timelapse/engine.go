package timelapse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"komadori/internal/camera"
)

// 周期タスクの周期と名前
const (
	previewPeriod = 30 * time.Millisecond
	statusPeriod  = 250 * time.Millisecond

	taskPreview = "preview"
	taskCapture = "capture"
	taskStatus  = "status"
)

// エンジンの状態遷移が拒否される条件
var (
	ErrCaptureRunning    = errors.New("撮影は既に実行中です")
	ErrEncodeOutstanding = errors.New("前回の動画エンコードが完了していません")
	ErrNoOutputDir       = errors.New("出力先ディレクトリが選択されていません")
)

// EngineOptions はEngineの構築パラメータ
type EngineOptions struct {
	Config     Config       // 初期のタイムラプス設定
	BaseDir    string       // 出力先ベースディレクトリ（空なら開始時に指定必須）
	MaxProbes  int          // カメラ列挙の最大プローブ数
	Recorder   RunRecorder  // 実行履歴の保存先（nil可）
	OpenFolder func(string) // 完了後にフォルダを開く（nil可、ベストエフォート）
}

// Engine はタイムラプス撮影全体を制御する状態機械
//
// プレビュー（30ms）・撮影（設定間隔）・ステータス（250ms）の3つの
// 周期タスクとエンコード完了イベントを、Schedulerの1本のディスパッチ
// ゴルーチン上で直列に実行する。状態を変更する操作はすべて
// ディスパッチゴルーチンに載せ替えてから実行する
type Engine struct {
	session    *camera.Session
	sched      *Scheduler
	encoder    VideoEncoder
	recorder   RunRecorder
	openFolder func(string)
	maxProbes  int

	mu         sync.RWMutex
	baseCtx    context.Context // エンジンの寿命に紐づくコンテキスト（Startで設定）
	state      State
	cfg        Config // 次回撮影に使う設定
	baseDir    string
	run        *Run
	cameras    []int // 列挙済みカメラインデックス
	previewOn  bool
	statusLine string
	lastEncode string // 直近のエンコード結果（success/failed/skipped）

	subsMu    sync.Mutex
	subs      map[uint64]chan []byte
	nextSubID uint64
}

// NewEngine は新しいEngineを作成する
func NewEngine(session *camera.Session, sched *Scheduler, encoder VideoEncoder, opts EngineOptions) *Engine {
	maxProbes := opts.MaxProbes
	if maxProbes < 1 {
		maxProbes = 6
	}

	return &Engine{
		session:    session,
		sched:      sched,
		encoder:    encoder,
		recorder:   opts.Recorder,
		openFolder: opts.OpenFolder,
		maxProbes:  maxProbes,
		baseCtx:    context.Background(),
		state:      StateIdle,
		cfg:        opts.Config,
		baseDir:    opts.BaseDir,
		previewOn:  true,
		subs:       make(map[uint64]chan []byte),
	}
}

// Start はエンジンを開始する
// カメラを列挙して先頭のカメラを開き、プレビューとステータスの
// 周期タスクをアームする
func (e *Engine) Start(ctx context.Context) error {
	e.sched.Start(ctx)

	cams := camera.Enumerate(ctx, e.session.Opener(), e.maxProbes)
	e.mu.Lock()
	e.baseCtx = ctx
	e.cameras = cams
	e.mu.Unlock()

	if len(cams) == 0 {
		log.Printf("利用可能なカメラが見つかりませんでした")
	} else if err := e.session.Open(ctx, cams[0]); err != nil {
		log.Printf("初期カメラのオープンに失敗: %v", err)
	} else {
		log.Printf("カメラ %d を開きました (検出: %v)", cams[0], cams)
	}

	e.sched.Every(taskPreview, previewPeriod, func() { e.previewTick(ctx) })
	e.sched.Every(taskStatus, statusPeriod, func() { e.statusTick() })

	e.mu.Lock()
	e.refreshIdleStatusLocked()
	e.mu.Unlock()

	return nil
}

// Stop はエンジンを停止する
// 撮影・プレビューのタスクを解除してからカメラを解放する（この順序）
// 撮影中でも途中のrunを動画化することはない
func (e *Engine) Stop(_ context.Context) error {
	e.sched.Cancel(taskCapture)
	e.sched.Cancel(taskPreview)
	e.sched.Cancel(taskStatus)
	e.sched.Stop()

	e.session.Release()

	log.Printf("タイムラプスエンジンを停止しました")
	return nil
}

// StartCapture はタイムラプス撮影を開始する
// baseDirが空の場合は構築時のベースディレクトリを使う
func (e *Engine) StartCapture(_ context.Context, baseDir string, cfg Config) (*Run, error) {
	var run *Run
	var err error
	e.sched.Do(func() { run, err = e.startCapture(baseDir, cfg) })
	return run, err
}

// startCapture はディスパッチゴルーチン上で実行される
func (e *Engine) startCapture(baseDir string, cfg Config) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		return nil, ErrCaptureRunning
	case StateEncoding:
		return nil, ErrEncodeOutstanding
	}

	if baseDir == "" {
		baseDir = e.baseDir
	}
	if baseDir == "" {
		// 出力先未選択。状態は変えない
		return nil, ErrNoOutputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	run := NewRun(baseDir, cfg, time.Now())
	if err := os.MkdirAll(run.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	e.run = run
	e.cfg = cfg
	e.baseDir = baseDir
	e.state = StateRunning

	// 撮影タスクはリクエストではなくエンジンの寿命に紐づける。
	// 呼び出し元のコンテキストは開始処理が戻った時点で死ぬ
	tickCtx := e.baseCtx
	e.sched.Every(taskCapture, cfg.Interval(), func() { e.captureTick(tickCtx) })

	e.statusLine = fmt.Sprintf("タイムラプス開始: %d フレーム予定 | 動画: %s",
		run.FrameCount, FormatDuration(float64(cfg.VideoDurationSeconds())))
	log.Printf("タイムラプスを開始しました: %s (%d フレーム予定)", run.OutputDir, run.FrameCount)

	return run, nil
}

// StopCapture はタイムラプス撮影を停止する
// 撮影中でなければno-op
func (e *Engine) StopCapture() {
	e.sched.Do(e.stopCapture)
}

// stopCapture はディスパッチゴルーチン上で実行される
// 撮影タスクを解除し、保存済みフレーム数に関わらずエンコードを試みる
func (e *Engine) stopCapture() {
	e.mu.Lock()
	if e.state != StateRunning || e.run == nil {
		e.mu.Unlock()
		return
	}
	run := e.run
	e.sched.Cancel(taskCapture)
	e.state = StateEncoding
	e.mu.Unlock()

	log.Printf("タイムラプスを停止しました: %d/%d フレーム", run.SavedCount, run.FrameCount)
	e.encode(run)
}

// captureTick は撮影タスクの1tick
// フレームを1枚取得して保存し、締め切りに達していたら停止する
func (e *Engine) captureTick(ctx context.Context) {
	e.mu.RLock()
	if e.state != StateRunning || e.run == nil {
		e.mu.RUnlock()
		return
	}
	run := e.run
	previewOn := e.previewOn
	e.mu.RUnlock()

	// プレビュー有効時は直近のプレビューフレームを使い回し、
	// 無効時だけこの場でカメラを読む（二重読み取りを避ける）
	// このためプレビュー有効時の保存フレームは最大でプレビュー周期ぶん
	// 古くなり得る（許容済みのポリシー）
	var frame []byte
	if previewOn {
		frame = e.session.Frame()
	} else {
		if f, err := e.session.Read(ctx); err == nil {
			frame = f
		}
	}

	if len(frame) == 0 {
		// 使えるフレームがないtickは読み飛ばす。エラー扱いも再試行もしない
		return
	}

	if !time.Now().Before(run.Deadline) {
		// 締め切り到達。このtickではフレームを保存しない
		e.stopCapture()
		return
	}

	e.mu.RLock()
	n := run.SavedCount
	e.mu.RUnlock()

	if err := os.WriteFile(run.FramePath(n), frame, 0644); err != nil {
		log.Printf("フレームの保存に失敗: %v", err)
		return
	}

	e.mu.Lock()
	run.SavedCount++
	e.mu.Unlock()
}

// previewTick はプレビュータスクの1tick
// プレビュー無効またはカメラ未保持のときは何もしない（カメラ帯域の節約）
func (e *Engine) previewTick(ctx context.Context) {
	e.mu.RLock()
	on := e.previewOn
	e.mu.RUnlock()

	if !on || !e.session.IsOpen() {
		return
	}

	frame, err := e.session.Read(ctx)
	if err != nil {
		// 読み取り失敗はこのtickを読み飛ばすだけ。次tickで自然に再試行される
		return
	}

	e.publish(frame)
}

// statusTick はステータスタスクの1tick
// 撮影中だけ進捗と残り時間を再計算して公開する。撮影中以外は
// 早期リターンし、エンコード結果の表示は次の設定変更まで維持する
// （待機中の予測は設定変更イベント側で更新する）
func (e *Engine) statusTick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning || e.run == nil {
		return
	}

	remaining := int(time.Until(e.run.Deadline).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	percent := 0
	if e.run.FrameCount > 0 {
		percent = e.run.SavedCount * 100 / e.run.FrameCount
	}

	// 表示上は予測フレーム数を上限とする
	saved := e.run.SavedCount
	if saved > e.run.FrameCount {
		saved = e.run.FrameCount
	}

	e.statusLine = fmt.Sprintf("%d/%d フレーム (%d%%) | 残り %02d:%02d | 動画: %s",
		saved, e.run.FrameCount, percent,
		remaining/60, remaining%60,
		FormatDuration(float64(e.run.Config.VideoDurationSeconds())))
}

// refreshIdleStatusLocked は待機中の予測表示を更新する（ロック済み前提）
func (e *Engine) refreshIdleStatusLocked() {
	e.statusLine = fmt.Sprintf("予測: %d フレーム | 動画: %s",
		e.cfg.FrameCount(), FormatDuration(float64(e.cfg.VideoDurationSeconds())))
}

// encode は動画生成を起動する。ディスパッチゴルーチン上で実行される
func (e *Engine) encode(run *Run) {
	err := e.encoder.Encode(run, func(exitCode int) {
		// プロセス完了はイベントとしてディスパッチキューに載せ替える
		e.sched.Post(func() { e.encodeDone(run, exitCode) })
	})

	if err == nil {
		e.mu.Lock()
		e.statusLine = "動画を生成しています..."
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.state = StateIdle
	if errors.Is(err, ErrNothingToEncode) {
		e.statusLine = "エンコードするフレームがありません"
		e.lastEncode = EncodeSkipped
	} else {
		e.statusLine = "動画の生成に失敗しました"
		e.lastEncode = EncodeFailed
		log.Printf("動画エンコードの起動に失敗: %v", err)
	}
	status := e.lastEncode
	e.mu.Unlock()

	e.record(run, status)
}

// encodeDone はエンコード完了イベントを処理する
// ディスパッチゴルーチン上で実行される
func (e *Engine) encodeDone(run *Run, exitCode int) {
	e.mu.Lock()
	e.state = StateIdle
	success := exitCode == 0
	if success {
		e.statusLine = fmt.Sprintf("動画を生成しました: %s", run.VideoPath())
		e.lastEncode = EncodeSuccess
	} else {
		// フレームファイルはディスクに残るため手動で復旧できる。再試行はしない
		e.statusLine = "動画の生成に失敗しました"
		e.lastEncode = EncodeFailed
		log.Printf("動画エンコードが失敗しました (終了コード: %d)", exitCode)
	}
	status := e.lastEncode
	dir := run.OutputDir
	e.mu.Unlock()

	e.record(run, status)

	if success && e.openFolder != nil {
		// ベストエフォート。失敗しても報告しない
		e.openFolder(dir)
	}
}

// record は実行記録を履歴に保存する。recorderがnilなら何もしない
func (e *Engine) record(run *Run, encodeStatus string) {
	if e.recorder == nil {
		return
	}

	rec := RunRecord{
		ID:            run.ID,
		OutputDir:     run.OutputDir,
		StartedAt:     run.StartTime,
		EndedAt:       time.Now(),
		FramesSaved:   run.SavedCount,
		FramesPlanned: run.FrameCount,
		VideoFPS:      run.Config.VideoFPS,
		EncodeStatus:  encodeStatus,
	}

	if encodeStatus == EncodeSuccess {
		rec.VideoPath = run.VideoPath()
		if info, err := os.Stat(rec.VideoPath); err == nil {
			rec.VideoSize = info.Size()
		}
	}

	if err := e.recorder.SaveRun(rec); err != nil {
		log.Printf("実行履歴の保存に失敗: %v", err)
	}
}

// SwitchCamera はカメラを切り替え、実際に開けたインデックスを返す
// 撮影中の切り替えは拒否され、状態もカメラも変化しない
func (e *Engine) SwitchCamera(ctx context.Context, index int) (int, error) {
	var actual int
	var err error
	e.sched.Do(func() { actual, err = e.switchCamera(ctx, index) })
	return actual, err
}

// switchCamera はディスパッチゴルーチン上で実行される
func (e *Engine) switchCamera(ctx context.Context, index int) (int, error) {
	e.mu.RLock()
	running := e.state == StateRunning
	cams := e.cameras
	e.mu.RUnlock()

	if running {
		return e.session.Index(), ErrCaptureRunning
	}

	return e.session.Switch(ctx, index, cams)
}

// SetPreview はライブプレビューの有効/無効を切り替える
// 無効にしてもカメラハンドルは解放しない
func (e *Engine) SetPreview(enabled bool) {
	e.sched.Do(func() {
		e.mu.Lock()
		e.previewOn = enabled
		e.mu.Unlock()
	})
}

// UpdateConfig は次回撮影に使う設定を更新する
// 撮影中の変更は拒否される（間隔・総時間の途中変更による不整合を防ぐ）
func (e *Engine) UpdateConfig(cfg Config) error {
	var err error
	e.sched.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.state == StateRunning {
			err = ErrCaptureRunning
			return
		}
		if err = cfg.Validate(); err != nil {
			return
		}

		e.cfg = cfg
		if e.state == StateIdle {
			// 設定変更イベントでも予測を再計算する（statusTickを待たない）
			e.refreshIdleStatusLocked()
		}
	})
	return err
}

// publish はプレビューフレームを購読者に配信する
// 詰まっている購読者には古いフレームを捨てて新しいフレームを届ける
func (e *Engine) publish(frame []byte) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// Subscribe はプレビューフレームの購読を開始する
func (e *Engine) Subscribe() (uint64, <-chan []byte) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	e.nextSubID++
	id := e.nextSubID
	ch := make(chan []byte, 2)
	e.subs[id] = ch
	return id, ch
}

// Unsubscribe はプレビューフレームの購読を解除する
func (e *Engine) Unsubscribe(id uint64) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	delete(e.subs, id)
}

// RunStatus は実行中のrunのスナップショット
type RunStatus struct {
	ID               string    `json:"id"`
	OutputDir        string    `json:"output_dir"`
	StartTime        time.Time `json:"start_time"`
	Deadline         time.Time `json:"deadline"`
	SavedCount       int       `json:"saved_count"`
	FrameCount       int       `json:"frame_count"`
	Percent          int       `json:"percent"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// EngineStatus はエンジン全体のスナップショット
type EngineStatus struct {
	State           State      `json:"state"`
	PreviewEnabled  bool       `json:"preview_enabled"`
	CameraIndex     int        `json:"camera_index"` // -1はカメラなし
	Cameras         []int      `json:"cameras"`
	Config          Config     `json:"config"`
	PredictedFrames int        `json:"predicted_frames"`
	PredictedVideo  string     `json:"predicted_video_duration"`
	StatusLine      string     `json:"status_line"`
	LastEncode      string     `json:"last_encode,omitempty"`
	Run             *RunStatus `json:"run,omitempty"`
}

// Snapshot は現在状態のスナップショットを返す
func (e *Engine) Snapshot() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := EngineStatus{
		State:           e.state,
		PreviewEnabled:  e.previewOn,
		CameraIndex:     e.session.Index(),
		Cameras:         append([]int(nil), e.cameras...),
		Config:          e.cfg,
		PredictedFrames: e.cfg.FrameCount(),
		PredictedVideo:  FormatDuration(float64(e.cfg.VideoDurationSeconds())),
		StatusLine:      e.statusLine,
		LastEncode:      e.lastEncode,
	}

	if e.run != nil && e.state == StateRunning {
		remaining := int(time.Until(e.run.Deadline).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		percent := 0
		if e.run.FrameCount > 0 {
			percent = e.run.SavedCount * 100 / e.run.FrameCount
		}
		status.Run = &RunStatus{
			ID:               e.run.ID,
			OutputDir:        e.run.OutputDir,
			StartTime:        e.run.StartTime,
			Deadline:         e.run.Deadline,
			SavedCount:       e.run.SavedCount,
			FrameCount:       e.run.FrameCount,
			Percent:          percent,
			RemainingSeconds: remaining,
		}
	}

	return status
}
