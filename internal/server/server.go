package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"komadori/internal/config"
	"komadori/internal/store"
	"komadori/internal/timelapse"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     *timelapse.Engine
	history    *store.History // nilの場合は履歴APIが無効
	router     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, engine *timelapse.Engine, history *store.History) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	return &Server{
		config:  cfg,
		engine:  engine,
		history: history,
		router:  router,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/cameras", s.handleCameras)
		api.POST("/cameras/select", s.handleCameraSelect)
		api.POST("/preview", s.handlePreview)
		api.GET("/preview/stream", s.handlePreviewStream)
		api.POST("/timelapse/start", s.handleTimelapseStart)
		api.POST("/timelapse/stop", s.handleTimelapseStop)
		api.POST("/timelapse/config", s.handleTimelapseConfig)
		api.GET("/runs", s.handleRuns)
	}

	// ルートハンドラ（簡単な確認用）
	s.router.GET("/", s.handleRoot)
}

// Start はサーバーを起動する
// コンテキストのキャンセルまたはSIGINT/SIGTERMでシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	// ルートを設定
	s.setupRoutes()

	// エンジンを開始（カメラ列挙とプレビュー開始）
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("エンジンの開始に失敗: %w", err)
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		_ = s.engine.Stop(ctx)
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown(ctx)
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// HTTPサーバーを止めてからエンジンを停止する（この順序）
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		_ = s.engine.Stop(ctx)
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	if err := s.engine.Stop(ctx); err != nil {
		return fmt.Errorf("エンジンの停止に失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
