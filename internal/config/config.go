package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".msd"
	envPrefix  = "MSD"

	KeyListen               = "listen"
	KeyPort                 = "port"
	KeySessionsDir          = "sessions.dir"
	KeyStatusPath           = "status.path"
	KeyPairingTimeout       = "pairing.timeout"
	KeyPairingSettleDelay   = "pairing.settle_delay"
	KeyPairingToken         = "pairing.token"
	KeyPairingTokenKey      = "pairing.token_key"
	KeyPairingAllowOpen     = "pairing.allow_unauthenticated"
	KeyReconnectInitial     = "reconnect.initial_delay"
	KeyReconnectMax         = "reconnect.max_delay"
	KeyReconnectMultiplier  = "reconnect.multiplier"
	KeyReconnectJitter      = "reconnect.jitter"
	KeyNotifyOnConnect      = "sessions.notify_on_connect"
	KeyCommandsIgnoreSelf   = "commands.ignore_self"
	KeyLogLevel             = "log.level"
	KeyLogFormat            = "log.format"
	KeyEngineDriver         = "engine.driver"
	KeyEngineConnectDelay   = "engine.connect_delay"
	KeyEngineAutoConfirm    = "engine.auto_confirm"
	KeyServerShutdownPeriod = "server.shutdown_timeout"
	KeyServerCORSOrigins    = "server.cors_origins"
	KeySecretsBackend       = "secrets.backend"
	KeySecretsDir           = "secrets.dir"

	SecretsBackendFile = "file"
	SecretsBackendPass = "pass"
	SecretsBackendAuto = "auto"
)

type Config struct {
	Listen      string
	SessionsDir string
	StatusPath  string
	Pairing     Pairing
	Reconnect   Reconnect
	Sessions    Sessions
	Commands    Commands
	Log         Log
	Engine      Engine
	Server      Server
	Secrets     Secrets
}

type Pairing struct {
	Timeout     time.Duration
	SettleDelay time.Duration
	// Token wins over the secret stored under TokenKey.
	Token                string
	TokenKey             string
	AllowUnauthenticated bool
}

type Reconnect struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

type Sessions struct {
	NotifyOnConnect bool
}

type Commands struct {
	IgnoreSelf bool
}

type Log struct {
	Level  string
	Format string
}

type Engine struct {
	Driver       string
	ConnectDelay time.Duration
	AutoConfirm  time.Duration
}

// Secrets selects where msd token keeps the pairing token. auto tries pass
// and falls back to files under Dir.
type Secrets struct {
	Backend string
	Dir     string
}

type Server struct {
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// New returns a viper instance with defaults, the optional config file and
// MSD_* environment overrides applied. An explicit path must exist.
func New(path string) (*viper.Viper, error) {
	cfg := viper.New()
	setDefaults(cfg)

	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()
	if err := cfg.BindEnv(KeyPort, "PORT"); err != nil {
		return nil, fmt.Errorf("bind port env: %w", err)
	}

	if path != "" {
		cfg.SetConfigFile(path)
		if err := cfg.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		return cfg, nil
	}

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	if homeDir, err := os.UserHomeDir(); err == nil {
		cfg.AddConfigPath(filepath.Join(homeDir, configDir))
	}
	cfg.AddConfigPath(".")

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return cfg, nil
}

func setDefaults(cfg *viper.Viper) {
	cfg.SetDefault(KeyListen, "")
	cfg.SetDefault(KeyPort, "3000")
	cfg.SetDefault(KeySessionsDir, "sessions")
	cfg.SetDefault(KeyPairingTimeout, 60*time.Second)
	cfg.SetDefault(KeyPairingSettleDelay, 3*time.Second)
	cfg.SetDefault(KeyPairingToken, "")
	cfg.SetDefault(KeyPairingTokenKey, "msd/pairing-token")
	cfg.SetDefault(KeyPairingAllowOpen, false)
	cfg.SetDefault(KeyReconnectInitial, 500*time.Millisecond)
	cfg.SetDefault(KeyReconnectMax, time.Minute)
	cfg.SetDefault(KeyReconnectMultiplier, 2.0)
	cfg.SetDefault(KeyReconnectJitter, true)
	cfg.SetDefault(KeyNotifyOnConnect, true)
	cfg.SetDefault(KeyCommandsIgnoreSelf, false)
	cfg.SetDefault(KeyLogLevel, "info")
	cfg.SetDefault(KeyLogFormat, "console")
	cfg.SetDefault(KeyEngineDriver, "loopback")
	cfg.SetDefault(KeyEngineConnectDelay, 200*time.Millisecond)
	cfg.SetDefault(KeyEngineAutoConfirm, 10*time.Second)
	cfg.SetDefault(KeyServerShutdownPeriod, 10*time.Second)
	cfg.SetDefault(KeyServerCORSOrigins, []string{})
	cfg.SetDefault(KeySecretsBackend, SecretsBackendFile)
	cfg.SetDefault(KeySecretsDir, "")
}

// Load decodes and validates cfg.
func Load(cfg *viper.Viper) (Config, error) {
	listen := cfg.GetString(KeyListen)
	if listen == "" {
		listen = ":" + cfg.GetString(KeyPort)
	}

	c := Config{
		Listen:      listen,
		SessionsDir: cfg.GetString(KeySessionsDir),
		StatusPath:  cfg.GetString(KeyStatusPath),
		Pairing: Pairing{
			Timeout:              cfg.GetDuration(KeyPairingTimeout),
			SettleDelay:          cfg.GetDuration(KeyPairingSettleDelay),
			Token:                cfg.GetString(KeyPairingToken),
			TokenKey:             cfg.GetString(KeyPairingTokenKey),
			AllowUnauthenticated: cfg.GetBool(KeyPairingAllowOpen),
		},
		Reconnect: Reconnect{
			InitialDelay: cfg.GetDuration(KeyReconnectInitial),
			MaxDelay:     cfg.GetDuration(KeyReconnectMax),
			Multiplier:   cfg.GetFloat64(KeyReconnectMultiplier),
			Jitter:       cfg.GetBool(KeyReconnectJitter),
		},
		Sessions: Sessions{NotifyOnConnect: cfg.GetBool(KeyNotifyOnConnect)},
		Commands: Commands{IgnoreSelf: cfg.GetBool(KeyCommandsIgnoreSelf)},
		Log: Log{
			Level:  cfg.GetString(KeyLogLevel),
			Format: cfg.GetString(KeyLogFormat),
		},
		Engine: Engine{
			Driver:       cfg.GetString(KeyEngineDriver),
			ConnectDelay: cfg.GetDuration(KeyEngineConnectDelay),
			AutoConfirm:  cfg.GetDuration(KeyEngineAutoConfirm),
		},
		Server: Server{
			ShutdownTimeout: cfg.GetDuration(KeyServerShutdownPeriod),
			CORSOrigins:     cfg.GetStringSlice(KeyServerCORSOrigins),
		},
		Secrets: Secrets{
			Backend: strings.ToLower(cfg.GetString(KeySecretsBackend)),
			Dir:     cfg.GetString(KeySecretsDir),
		},
	}
	if c.StatusPath == "" {
		c.StatusPath = filepath.Join(c.SessionsDir, "status.toml")
	}
	if c.Secrets.Dir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			c.Secrets.Dir = filepath.Join(homeDir, configDir, "secrets")
		} else {
			c.Secrets.Dir = filepath.Join(configDir, "secrets")
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SessionsDir) == "" {
		return errors.New("sessions.dir is required")
	}
	if c.Pairing.Timeout <= 0 {
		return fmt.Errorf("pairing.timeout must be positive, got %s", c.Pairing.Timeout)
	}
	if c.Pairing.SettleDelay < 0 {
		return fmt.Errorf("pairing.settle_delay must not be negative, got %s", c.Pairing.SettleDelay)
	}
	if c.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("reconnect.initial_delay must be positive, got %s", c.Reconnect.InitialDelay)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay %s is below reconnect.initial_delay %s", c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1, got %g", c.Reconnect.Multiplier)
	}
	switch c.Secrets.Backend {
	case SecretsBackendFile, SecretsBackendPass, SecretsBackendAuto:
	default:
		return fmt.Errorf("secrets.backend must be file, pass or auto, got %q", c.Secrets.Backend)
	}
	if strings.TrimSpace(c.Pairing.TokenKey) == "" {
		return errors.New("pairing.token_key is required")
	}

	return nil
}

// CheckPairingAccess refuses to expose the pairing endpoint without a token
// unless that was asked for explicitly.
func (c Config) CheckPairingAccess() error {
	if c.Pairing.Token == "" && !c.Pairing.AllowUnauthenticated {
		return errors.New("pairing.token is empty; set MSD_PAIRING_TOKEN or pairing.allow_unauthenticated = true")
	}

	return nil
}
