package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	BackendConfig struct {
		BaseURL          string
		APIPrefix        string
		Timeout          time.Duration // ordinary calls
		ImportTimeout    time.Duration // uploads, previews & other long-running calls
		RateLimit        float64       // requests per second for batch actions, 0 = unlimited
		BatchConcurrency int
	}

	SessionConfig struct {
		Path string // where credentials are persisted, "" = memory only
	}

	ServerConfig struct {
		Addr                      string
		Host                      string
		ShutdownTimeout           time.Duration
		SecretKey                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine     string // "" = in-memory
		Host       string
		Port       string
		Name       string
		User       string
		Password   string
		DisableTLS bool
	}

	Config struct {
		Env          string
		Debug        bool
		TestMode     bool
		AppName      string
		Build        string
		RollbarToken string
		Backend      BackendConfig
		Session      SessionConfig
		Server       ServerConfig
		Database     DatabaseConfig
	}
)

func (dc DatabaseConfig) Address() string {
	if dc.Port == "" {
		return dc.Host
	}
	return dc.Host + ":" + dc.Port
}

// BaseAPIURL joins the backend base URL and its versioned prefix.
func (bc BackendConfig) BaseAPIURL() string {
	return strings.TrimRight(bc.BaseURL, "/") + "/" + strings.Trim(bc.APIPrefix, "/")
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Presensi")
	conf.SetDefault("build", "dev")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("backend.baseURL", "http://localhost:8000")
	conf.SetDefault("backend.apiPrefix", "/api/v1")
	conf.SetDefault("backend.timeout", 15*time.Second)
	conf.SetDefault("backend.importTimeout", 5*time.Minute)
	conf.SetDefault("backend.rateLimit", 10.0)
	conf.SetDefault("backend.batchConcurrency", 4)

	conf.SetDefault("session.path", defaultSessionPath())

	conf.SetDefault("server.addr", ":8000")
	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.secretKey", "x9r!m2e7$k#presensi-dev-only-secret)0q")
	conf.SetDefault("server.jwtExpirationDelta", 15*time.Minute)
	conf.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)

	conf.SetDefault("database.engine", "")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "presensi")
	conf.SetDefault("database.user", "presensi")
	conf.SetDefault("database.password", "")
	conf.SetDefault("database.disableTLS", true)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:          env,
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		AppName:      conf.GetString("appName"),
		Build:        conf.GetString("build"),
		RollbarToken: conf.GetString("rollbarToken"),
		Backend: BackendConfig{
			BaseURL:          conf.GetString("backend.baseURL"),
			APIPrefix:        conf.GetString("backend.apiPrefix"),
			Timeout:          conf.GetDuration("backend.timeout"),
			ImportTimeout:    conf.GetDuration("backend.importTimeout"),
			RateLimit:        conf.GetFloat64("backend.rateLimit"),
			BatchConcurrency: conf.GetInt("backend.batchConcurrency"),
		},
		Session: SessionConfig{
			Path: conf.GetString("session.path"),
		},
		Server: ServerConfig{
			Addr:                      conf.GetString("server.addr"),
			Host:                      conf.GetString("server.host"),
			ShutdownTimeout:           conf.GetDuration("server.shutdownTimeout"),
			SecretKey:                 conf.GetString("server.secretKey"),
			JWTExpirationDelta:        conf.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:     conf.GetString("database.engine"),
			Host:       conf.GetString("database.host"),
			Port:       conf.GetString("database.port"),
			Name:       conf.GetString("database.name"),
			User:       conf.GetString("database.user"),
			Password:   conf.GetString("database.password"),
			DisableTLS: conf.GetBool("database.disableTLS"),
		},
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "presensi", "session.json")
}
