package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	History   HistoryConfig
	Auth      AuthConfig
	Knowledge KnowledgeConfig
	Log       LogConfig
	CORS      CORSConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	history, err := loadHistoryConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		History:   history,
		Auth:      auth,
		Knowledge: KnowledgeConfig{DataDir: getEnvOrDefault("DATA_DIR", "./data")},
		Log:       logCfg,
		CORS:      CORSConfig{AllowedOrigins: parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// HistoryConfig controls chat transcript persistence.
type HistoryConfig struct {
	Enabled     bool
	MaxSessions int
	StorageDir  string
}

const defaultMaxChatHistory = 50

func loadHistoryConfig() (HistoryConfig, error) {
	enabled, err := parseBoolEnv("ENABLE_CHAT_HISTORY", true)
	if err != nil {
		return HistoryConfig{}, err
	}

	maxSessions := defaultMaxChatHistory
	if override, err := parseOptionalIntEnv("MAX_CHAT_HISTORY"); err != nil {
		return HistoryConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return HistoryConfig{}, fmt.Errorf("invalid MAX_CHAT_HISTORY value %d: must be at least 1", *override)
		}
		maxSessions = *override
	}

	return HistoryConfig{
		Enabled:     enabled,
		MaxSessions: maxSessions,
		StorageDir:  getEnvOrDefault("CHAT_STORAGE_DIR", "./chat_history"),
	}, nil
}

// AuthMode selects how requests are mapped to a principal.
type AuthMode string

const (
	AuthNone     AuthMode = "none"
	AuthPassword AuthMode = "password"
	AuthHeader   AuthMode = "header"
)

// AuthConfig 描述认证策略配置。
type AuthConfig struct {
	Mode AuthMode
	// Users maps user names to bcrypt hashes for password mode.
	Users map[string]string
	// Header carries the authenticated user name in header mode.
	Header string
	Realm  string
}

func loadAuthConfig() (AuthConfig, error) {
	mode := AuthMode(strings.ToLower(getEnvOrDefault("AUTH_MODE", string(AuthNone))))

	cfg := AuthConfig{
		Mode:   mode,
		Users:  map[string]string{},
		Header: getEnvOrDefault("AUTH_HEADER", "X-Forwarded-User"),
		Realm:  getEnvOrDefault("AUTH_REALM", "IT Support Assistant"),
	}

	switch mode {
	case AuthNone, AuthHeader:
		return cfg, nil
	case AuthPassword:
		users, err := parseUsers(os.Getenv("AUTH_USERS"))
		if err != nil {
			return AuthConfig{}, err
		}
		if len(users) == 0 {
			return AuthConfig{}, fmt.Errorf("AUTH_MODE=password requires AUTH_USERS")
		}
		cfg.Users = users
		return cfg, nil
	default:
		return AuthConfig{}, fmt.Errorf("invalid AUTH_MODE value %q: expected none, password or header", mode)
	}
}

// parseUsers reads "name:hash" pairs separated by commas.
func parseUsers(raw string) (map[string]string, error) {
	users := map[string]string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		name, hash = strings.TrimSpace(name), strings.TrimSpace(hash)
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid AUTH_USERS entry %q: expected name:bcrypt-hash", entry)
		}
		users[name] = hash
	}
	return users, nil
}

// CORSConfig lists the browser origins allowed to call the API with
// credentials. An empty list allows anonymous cross-origin reads only.
type CORSConfig struct {
	AllowedOrigins []string
}

// parseList splits a comma separated value, dropping blanks and trailing slashes.
func parseList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimRight(strings.TrimSpace(item), "/")
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// KnowledgeConfig points at the documents fed to the retrieval pipeline.
type KnowledgeConfig struct {
	DataDir string
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() (LogConfig, error) {
	level := strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q", level)
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}

	return LogConfig{Level: level, Format: format}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
