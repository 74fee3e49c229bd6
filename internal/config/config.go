package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSavePrefix は保存先として許可されるパスの接頭辞
const DefaultSavePrefix = "./output/"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Save    SaveConfig    `yaml:"save"`
	Journal JournalConfig `yaml:"journal"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト（空なら全インターフェース）
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定（0 は無制限）
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	Root   string `yaml:"root"`   // 静的ファイルと保存先の基準ディレクトリ
	Strict bool   `yaml:"strict"` // パスの正規化と封じ込めチェックを行う
}

// SaveConfig は保存エンドポイントの設定
type SaveConfig struct {
	Prefix string `yaml:"prefix"` // filepath が必ず始まる接頭辞
}

// JournalConfig は保存履歴の設定
type JournalConfig struct {
	Path string `yaml:"path"` // bbolt ファイル。空なら無効
}

// WatchConfig は出力ディレクトリ監視の設定
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "",
			Port: 8000,
			Root: ".",
		},
		Save: SaveConfig{
			Prefix: DefaultSavePrefix,
		},
	}
}

// Load は設定を読み込む
// SCHEDSRV_CONFIG が指す YAML ファイル、環境変数の順に上書きする
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom は path の YAML ファイルから設定を読み込む
// path が空なら SCHEDSRV_CONFIG を参照する
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SCHEDSRV_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile は YAML ファイルの値で設定を上書きする
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SCHEDSRV_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Server.Root = getEnvOrDefault("SCHEDSRV_ROOT", c.Server.Root)
	c.Server.Strict = getEnvAsBoolOrDefault("SCHEDSRV_STRICT", c.Server.Strict)
	c.Journal.Path = getEnvOrDefault("SCHEDSRV_JOURNAL", c.Journal.Path)
	c.Watch.Enabled = getEnvAsBoolOrDefault("SCHEDSRV_WATCH", c.Watch.Enabled)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("タイムアウトが負の値です")
	}
	if c.Server.Root == "" {
		return fmt.Errorf("ドキュメントルートが設定されていません")
	}
	if !strings.HasPrefix(c.Save.Prefix, "./") || !strings.HasSuffix(c.Save.Prefix, "/") {
		return fmt.Errorf("無効な保存先接頭辞: %q", c.Save.Prefix)
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
