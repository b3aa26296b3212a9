package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"komadori/internal/camera"
	"komadori/internal/config"
	"komadori/internal/store"
	"komadori/internal/timelapse"
)

// testEncoder はテスト用のVideoEncoder実装
// プロセスを起動せず、常に成功の終了コードを報告する
type testEncoder struct{}

func (testEncoder) Encode(run *timelapse.Run, onDone func(exitCode int)) error {
	if run == nil || run.OutputDir == "" || run.SavedCount == 0 {
		return timelapse.ErrNothingToEncode
	}
	onDone(0)
	return nil
}

// newTestServer はモックカメラ付きのサーバーを組み立てる
func newTestServer(t *testing.T, port int) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         port,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 0,
		},
		Camera: config.CameraConfig{
			MaxProbes: 2,
			Width:     1280,
			Height:    720,
		},
		Timelapse: timelapse.DefaultConfig(),
	}

	history, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("履歴データベースのオープンに失敗しました: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	devices := map[int]*camera.MockDevice{
		0: {Index: 0, FrameData: []byte("test-frame")},
	}
	session := camera.NewSession(camera.NewMockOpener(devices))

	engine := timelapse.NewEngine(session, timelapse.NewScheduler(), testEncoder{}, timelapse.EngineOptions{
		Config:    cfg.Timelapse,
		BaseDir:   t.TempDir(),
		MaxProbes: cfg.Camera.MaxProbes,
		Recorder:  history,
	})

	return New(cfg, engine, history)
}

// postJSON はJSONボディでPOSTする
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("リクエストボディの作成に失敗しました: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	return resp
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv := newTestServer(t, 8082)

	// テスト用のコンテキスト（タイムアウト付き）
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	// エラーチャンネルから結果を受信
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints はサーバーの参照系エンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	srv := newTestServer(t, 8083)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = srv.Start(ctx)
	}()

	// サーバーが起動するまで待つ
	time.Sleep(500 * time.Millisecond)

	baseURL := fmt.Sprintf("http://%s", srv.config.ServerAddress())

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ルートエンドポイント", "/", http.StatusOK},
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK},
		{"ステータスエンドポイント", "/api/status", http.StatusOK},
		{"カメラ一覧エンドポイント", "/api/cameras", http.StatusOK},
		{"実行履歴エンドポイント", "/api/runs", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(baseURL + tc.endpoint)
			if err != nil {
				t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d",
					resp.StatusCode, tc.expectedStatus)
			}
		})
	}

	// ステータスの内容を検証
	resp, err := http.Get(baseURL + "/api/status")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	defer resp.Body.Close()

	var status timelapse.EngineStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("ステータスの解析に失敗しました: %v", err)
	}
	if status.State != timelapse.StateIdle {
		t.Errorf("初期状態がidleではありません: %s", status.State)
	}
	if status.CameraIndex != 0 {
		t.Errorf("カメラインデックスが一致しません: got %d", status.CameraIndex)
	}
}

// TestServerTimelapseFlow はタイムラプス操作APIの一連の流れをテストする
func TestServerTimelapseFlow(t *testing.T) {
	srv := newTestServer(t, 8084)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = srv.Start(ctx)
	}()

	time.Sleep(500 * time.Millisecond)

	baseURL := fmt.Sprintf("http://%s", srv.config.ServerAddress())

	// 不正な設定での開始は拒否される
	resp := postJSON(t, baseURL+"/api/timelapse/start", map[string]any{
		"interval_seconds": 0,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("不正な設定が拒否されていません: got %d", resp.StatusCode)
	}

	// 正常な開始
	resp = postJSON(t, baseURL+"/api/timelapse/start", map[string]any{
		"interval_seconds": 30,
		"total_seconds":    300,
		"video_fps":        30,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("撮影の開始に失敗しました: got %d", resp.StatusCode)
	}
	var started struct {
		ID         string `json:"id"`
		FrameCount int    `json:"frame_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	resp.Body.Close()
	if started.FrameCount != 10 {
		t.Errorf("予測フレーム数が一致しません: got %d", started.FrameCount)
	}

	// 撮影中の二重開始は409
	resp = postJSON(t, baseURL+"/api/timelapse/start", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("二重開始が拒否されていません: got %d", resp.StatusCode)
	}

	// 撮影中の設定変更は409
	resp = postJSON(t, baseURL+"/api/timelapse/config", timelapse.DefaultConfig())
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("撮影中の設定変更が拒否されていません: got %d", resp.StatusCode)
	}

	// 撮影中のカメラ切り替えは409
	resp = postJSON(t, baseURL+"/api/cameras/select", map[string]any{"index": 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("撮影中のカメラ切り替えが拒否されていません: got %d", resp.StatusCode)
	}

	// 停止（フレーム0件なのでエンコードはスキップされる）
	resp = postJSON(t, baseURL+"/api/timelapse/stop", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("撮影の停止に失敗しました: got %d", resp.StatusCode)
	}
	var stopped timelapse.EngineStatus
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	resp.Body.Close()
	if stopped.State != timelapse.StateIdle {
		t.Errorf("停止後の状態がidleではありません: %s", stopped.State)
	}

	// スキップされた実行も履歴に記録される
	resp, err := http.Get(baseURL + "/api/runs")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	defer resp.Body.Close()

	var runs struct {
		Runs []timelapse.RunRecord `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("履歴の解析に失敗しました: %v", err)
	}
	if len(runs.Runs) != 1 {
		t.Fatalf("履歴の件数が一致しません: got %d", len(runs.Runs))
	}
	if runs.Runs[0].ID != started.ID {
		t.Errorf("履歴のIDが一致しません: got %s, want %s", runs.Runs[0].ID, started.ID)
	}
	if runs.Runs[0].EncodeStatus != timelapse.EncodeSkipped {
		t.Errorf("履歴のエンコード結果が一致しません: %s", runs.Runs[0].EncodeStatus)
	}
}

// TestServerPreviewToggle はプレビューの有効/無効切り替えをテストする
func TestServerPreviewToggle(t *testing.T) {
	srv := newTestServer(t, 8085)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = srv.Start(ctx)
	}()

	time.Sleep(500 * time.Millisecond)

	baseURL := fmt.Sprintf("http://%s", srv.config.ServerAddress())

	// 無効化
	resp := postJSON(t, baseURL+"/api/preview", map[string]any{"enabled": false})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("プレビューの無効化に失敗しました: got %d", resp.StatusCode)
	}

	// ステータスに反映される
	getResp, err := http.Get(baseURL + "/api/status")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	defer getResp.Body.Close()

	var status timelapse.EngineStatus
	if err := json.NewDecoder(getResp.Body).Decode(&status); err != nil {
		t.Fatalf("ステータスの解析に失敗しました: %v", err)
	}
	if status.PreviewEnabled {
		t.Error("プレビューの無効化が反映されていません")
	}

	// enabledフィールドなしは400
	resp = postJSON(t, baseURL+"/api/preview", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("不正なリクエストが拒否されていません: got %d", resp.StatusCode)
	}
}
