package main

import (
	"context"
	"log"

	"komadori/internal/camera"
	"komadori/internal/config"
	"komadori/internal/platform"
	"komadori/internal/server"
	"komadori/internal/store"
	"komadori/internal/timelapse"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// 実行履歴ストアを開く（パスが空なら履歴なしで動かす）
	var history *store.History
	var recorder timelapse.RunRecorder
	if cfg.Storage.HistoryDB != "" {
		history, err = store.Open(cfg.Storage.HistoryDB)
		if err != nil {
			log.Fatalf("実行履歴の初期化に失敗しました: %v", err)
		}
		defer history.Close()
		recorder = history
	}

	// エンコーダを作成してffmpegの存在を確認する
	encoder := timelapse.NewFFmpegEncoder()
	if err := encoder.ValidateFFmpeg(); err != nil {
		log.Printf("警告: %v", err)
	}

	// カメラセッションとエンジンを作成
	session := camera.NewSession(camera.NewV4L2Opener(cfg.Camera.Width, cfg.Camera.Height))
	engine := timelapse.NewEngine(session, timelapse.NewScheduler(), encoder, timelapse.EngineOptions{
		Config:     cfg.Timelapse,
		BaseDir:    cfg.Storage.BaseDir,
		MaxProbes:  cfg.Camera.MaxProbes,
		Recorder:   recorder,
		OpenFolder: platform.OpenFolder,
	})

	// サーバーを作成
	srv := server.New(cfg, engine, history)

	// コンテキストを作成
	ctx := context.Background()

	// サーバーを起動
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
