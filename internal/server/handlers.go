package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"komadori/internal/timelapse"
)

// ErrorResponse はAPIエラーの共通レスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// errorJSON はエラーレスポンスを書き込む
func errorJSON(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// engineErrorStatus はエンジンのエラーをHTTPステータスに対応付ける
func engineErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, timelapse.ErrCaptureRunning):
		return http.StatusConflict, "capture_running"
	case errors.Is(err, timelapse.ErrEncodeOutstanding):
		return http.StatusConflict, "encode_outstanding"
	case errors.Is(err, timelapse.ErrNoOutputDir):
		return http.StatusBadRequest, "no_output_dir"
	default:
		return http.StatusBadRequest, "invalid_request"
	}
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus はエンジン状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

// handleCameras はカメラ一覧取得エンドポイント
func (s *Server) handleCameras(c *gin.Context) {
	snap := s.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"cameras": snap.Cameras,
		"current": snap.CameraIndex,
	})
}

// handleCameraSelect はカメラ切り替えエンドポイント
// 失敗した場合もフォールバック後の実インデックスを返す
func (s *Server) handleCameraSelect(c *gin.Context) {
	var req struct {
		Index int `json:"index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	actual, err := s.engine.SwitchCamera(c.Request.Context(), req.Index)
	if err != nil {
		if errors.Is(err, timelapse.ErrCaptureRunning) {
			errorJSON(c, http.StatusConflict, "capture_running", err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":        "switch_failed",
			"message":      err.Error(),
			"camera_index": actual,
			"timestamp":    time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"camera_index": actual})
}

// handlePreview はライブプレビューの有効/無効を切り替える
func (s *Server) handlePreview(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request",
			errors.New("enabledフィールドが必要です"))
		return
	}

	s.engine.SetPreview(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"preview_enabled": *req.Enabled})
}

// handleTimelapseStart はタイムラプス撮影を開始する
// 省略されたフィールドは現在の設定値を引き継ぐ
func (s *Server) handleTimelapseStart(c *gin.Context) {
	var req struct {
		OutputDir       string `json:"output_dir"`
		IntervalSeconds *int   `json:"interval_seconds"`
		TotalSeconds    *int   `json:"total_seconds"`
		VideoFPS        *int   `json:"video_fps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	cfg := s.engine.Snapshot().Config
	if req.IntervalSeconds != nil {
		cfg.IntervalSeconds = *req.IntervalSeconds
	}
	if req.TotalSeconds != nil {
		cfg.TotalSeconds = *req.TotalSeconds
	}
	if req.VideoFPS != nil {
		cfg.VideoFPS = *req.VideoFPS
	}

	run, err := s.engine.StartCapture(c.Request.Context(), req.OutputDir, cfg)
	if err != nil {
		status, code := engineErrorStatus(err)
		errorJSON(c, status, code, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             run.ID,
		"output_dir":     run.OutputDir,
		"frame_count":    run.FrameCount,
		"deadline":       run.Deadline,
		"video_duration": timelapse.FormatDuration(float64(cfg.VideoDurationSeconds())),
	})
}

// handleTimelapseStop はタイムラプス撮影を停止する
// 撮影中でなくてもエラーにはしない
func (s *Server) handleTimelapseStop(c *gin.Context) {
	s.engine.StopCapture()
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

// handleTimelapseConfig は次回撮影に使う設定を更新する
func (s *Server) handleTimelapseConfig(c *gin.Context) {
	var cfg timelapse.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if err := s.engine.UpdateConfig(cfg); err != nil {
		status, code := engineErrorStatus(err)
		errorJSON(c, status, code, err)
		return
	}

	c.JSON(http.StatusOK, s.engine.Snapshot())
}

// runSummary は実行履歴1件のレスポンス表現
type runSummary struct {
	timelapse.RunRecord
	VideoSizeHuman string `json:"video_size_human,omitempty"`
}

// handleRuns は実行履歴の一覧を返す
func (s *Server) handleRuns(c *gin.Context) {
	if s.history == nil {
		errorJSON(c, http.StatusServiceUnavailable, "history_disabled",
			errors.New("実行履歴は無効化されています"))
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	records, err := s.history.ListRuns(limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "history_error", err)
		return
	}

	summaries := make([]runSummary, 0, len(records))
	for _, rec := range records {
		summary := runSummary{RunRecord: rec}
		if rec.VideoSize > 0 {
			summary.VideoSizeHuman = humanize.Bytes(uint64(rec.VideoSize))
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, gin.H{"runs": summaries})
}

// handlePreviewStream はプレビューをMJPEGストリームとして配信する
func (s *Server) handlePreviewStream(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	// レスポンスライターを取得
	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// プレビューフレームを購読する
	id, frameChan := s.engine.Subscribe()
	defer s.engine.Unsubscribe(id)

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	// ストリーミングループ
	for {
		select {
		case <-clientGone:
			// クライアントが切断された
			return

		case frame, ok := <-frameChan:
			if !ok {
				return
			}

			// MJPEGフレームを書き込み
			if _, err := writer.Write([]byte("--frame\r\n")); err != nil {
				return
			}
			if _, err := writer.Write([]byte("Content-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			// バッファをフラッシュ
			flusher.Flush()
		}
	}
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Komadori - タイムラプス撮影</title>
</head>
<body>
    <h1>Komadori タイムラプス撮影</h1>
    <p>サーバーが正常に起動しています。</p>
    <p>プレビュー: <img src="/api/preview/stream" alt="プレビュー" width="640"></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>実行履歴: <a href="/api/runs">/api/runs</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`)
}
