package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"komadori/internal/timelapse"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Camera    CameraConfig     `yaml:"camera"`
	Timelapse timelapse.Config `yaml:"timelapse"`
	Storage   StorageConfig    `yaml:"storage"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	MaxProbes int `yaml:"max_probes"` // 列挙時に調べる最大インデックス数
	Width     int `yaml:"width"`      // キャプチャ画像幅
	Height    int `yaml:"height"`     // キャプチャ画像高さ
}

// StorageConfig は出力先と実行履歴の設定
type StorageConfig struct {
	BaseDir   string `yaml:"base_dir"`   // タイムラプス出力先のベースディレクトリ
	HistoryDB string `yaml:"history_db"` // 実行履歴SQLiteファイルのパス（空で履歴無効）
}

// Load は設定を読み込む
// デフォルト値の上にKOMADORI_CONFIGで指定されたYAMLファイルを重ね、
// 最後に環境変数を反映する
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			MaxProbes: 6,
			Width:     1280,
			Height:    720,
		},
		Timelapse: timelapse.DefaultConfig(),
		Storage: StorageConfig{
			BaseDir:   defaultBaseDir(),
			HistoryDB: "komadori.db",
		},
	}

	if path := os.Getenv("KOMADORI_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// 環境変数はファイルより優先する
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Storage.BaseDir = getEnvOrDefault("KOMADORI_BASE_DIR", cfg.Storage.BaseDir)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile はYAMLファイルの内容をcfgに重ねる
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	if c.Camera.MaxProbes < 1 {
		return fmt.Errorf("無効な最大プローブ数: %d", c.Camera.MaxProbes)
	}
	if c.Camera.Width < 1 || c.Camera.Height < 1 {
		return fmt.Errorf("無効なキャプチャ解像度: %dx%d", c.Camera.Width, c.Camera.Height)
	}

	// タイムラプス設定の検証
	if err := c.Timelapse.Validate(); err != nil {
		return err
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// defaultBaseDir は出力先ベースディレクトリのデフォルト値を返す
// ホームディレクトリが取れない場合はカレントディレクトリに退避する
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
