// Package main はKomadoriサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"komadori/internal/camera"
	"komadori/internal/config"
	"komadori/internal/platform"
	"komadori/internal/server"
	"komadori/internal/store"
	"komadori/internal/timelapse"
)

func main() {
	// コマンドラインオプション
	var (
		host    = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port    = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		baseDir = flag.String("base-dir", "", "タイムラプス出力先 (デフォルト: ホームディレクトリ)")
		help    = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Komadori")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *baseDir != "" {
		cfg.Storage.BaseDir = *baseDir
	}

	// 実行履歴ストアを開く
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
	log.Printf("Komadori サーバーを起動します: %s", cfg.ServerAddress())
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
