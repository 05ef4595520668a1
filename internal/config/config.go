// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// UnsetLine marks an optional RTS/DTR line state that must be left untouched
const UnsetLine = -1

// StreamUpdatePath is the Warp 10 websocket ingestion path
const StreamUpdatePath = "/api/v0/streamupdate"

// ErrConflictingEndpoint is returned when both an explicit URL and host/port are given
var ErrConflictingEndpoint = errors.New("endpoint url and host/port are mutually exclusive")

// Config represents the application configuration
type Config struct {
	Serial     SerialConfig     `mapstructure:"serial"`
	Endpoint   EndpointConfig   `mapstructure:"endpoint"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
	App        AppConfig        `mapstructure:"app"`
}

// SerialConfig represents the serial device configuration
type SerialConfig struct {
	Device       string        `mapstructure:"device" validate:"required"`
	BaudRate     int           `mapstructure:"baud_rate"`
	ByteSize     int           `mapstructure:"byte_size"`
	Parity       string        `mapstructure:"parity"`
	StopBits     float64       `mapstructure:"stop_bits"`
	RTSCTS       bool          `mapstructure:"rtscts"`
	XONXOFF      bool          `mapstructure:"xonxoff"`
	RTS          int           `mapstructure:"rts"`
	DTR          int           `mapstructure:"dtr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	StartupRetry RetryConfig   `mapstructure:"startup_retry"`
	RuntimeRetry RetryConfig   `mapstructure:"runtime_retry"`
}

// RetryConfig represents one reconnect profile. MaxAttempts 0 means unbounded.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// EndpointConfig represents the remote ingestion endpoint configuration
type EndpointConfig struct {
	Host             string            `mapstructure:"host"`
	Port             int               `mapstructure:"port"`
	Path             string            `mapstructure:"path"`
	URL              string            `mapstructure:"url"`
	Token            string            `mapstructure:"token" validate:"required"`
	RetryDelay       time.Duration     `mapstructure:"retry_delay"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	AckTimeout       time.Duration     `mapstructure:"ack_timeout"`
	WriteTimeout     time.Duration     `mapstructure:"write_timeout"`
	Labels           map[string]string `mapstructure:"labels"`
}

// SupervisorConfig represents the relay loop configuration
type SupervisorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Quiet      bool   `mapstructure:"quiet"`
}

// StatusConfig represents the local status HTTP server configuration
type StatusConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
}

// flagBindings maps configuration keys onto command-line flag names
var flagBindings = map[string]string{
	"serial.device":    "device",
	"serial.baud_rate": "baud-rate",
	"serial.byte_size": "bytesize",
	"serial.parity":    "parity",
	"serial.stop_bits": "stopbits",
	"serial.rtscts":    "rtscts",
	"serial.xonxoff":   "xonxoff",
	"serial.rts":       "rts",
	"serial.dtr":       "dtr",
	"endpoint.host":    "warp10host",
	"endpoint.port":    "warp10port",
	"endpoint.url":     "url",
	"endpoint.token":   "token",
	"logging.level":    "loglevel",
	"logging.quiet":    "quiet",
}

// NewFlagSet declares the command-line surface of the relay
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)

	flags.String("config", "", "path to a YAML configuration file")
	flags.Bool("list-devices", false, "list candidate serial ports and exit")
	flags.BoolP("quiet", "q", false, "mute all logging")
	flags.String("loglevel", "info", "set logging level, one of {debug info warn error}")

	// serial port
	flags.StringP("device", "d", "", "serial port name, example: /dev/ttyUSB0")
	flags.IntP("baud-rate", "r", 9600, "set baud rate, one of {1200 2400 4800 9600}")
	flags.Int("bytesize", 8, "set bytesize, one of {5 6 7 8}")
	flags.String("parity", "N", "set parity, one of {N E O S M}")
	flags.Float64("stopbits", 1, "set stopbits, one of {1 1.5 2}")
	flags.Bool("rtscts", false, "enable RTS/CTS flow control")
	flags.Bool("xonxoff", false, "enable software flow control")
	flags.Int("rts", UnsetLine, "set initial RTS line state (0 or 1)")
	flags.Int("dtr", UnsetLine, "set initial DTR line state (0 or 1)")

	// network settings
	flags.IntP("warp10port", "P", 80, "Warp 10 websocket port")
	flags.StringP("warp10host", "H", "localhost", "Warp 10 websocket host")
	flags.String("url", "", "full Warp 10 websocket URL, replaces --warp10host/--warp10port")
	flags.String("token", "", "Warp 10 write token (prefer TIC_RELAY_ENDPOINT_TOKEN)")

	return flags
}

// Load loads configuration from defaults, an optional file, .env, environment variables and flags
func Load(flags *pflag.FlagSet) (*Config, error) {
	// A missing .env file is the normal case
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable support
	v.SetEnvPrefix("TIC_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	configFile := ""
	if flags != nil {
		if err := checkEndpointFlags(flags); err != nil {
			return nil, err
		}
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
		configFile, _ = flags.GetString("config")
	}

	// Read config file
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("tic-relay")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tic-relay")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	normalize(&config)

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// bindFlags binds every known flag onto its configuration key
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagBindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// checkEndpointFlags rejects an explicit URL combined with host/port flags
func checkEndpointFlags(flags *pflag.FlagSet) error {
	if !flags.Changed("url") {
		return nil
	}
	if flags.Changed("warp10host") || flags.Changed("warp10port") {
		return ErrConflictingEndpoint
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Serial defaults
	v.SetDefault("serial.device", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.byte_size", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1.0)
	v.SetDefault("serial.rtscts", false)
	v.SetDefault("serial.xonxoff", false)
	v.SetDefault("serial.rts", UnsetLine)
	v.SetDefault("serial.dtr", UnsetLine)
	v.SetDefault("serial.read_timeout", "500ms")
	v.SetDefault("serial.startup_retry.max_attempts", 5)
	v.SetDefault("serial.startup_retry.delay", "2s")
	v.SetDefault("serial.runtime_retry.max_attempts", 99999)
	v.SetDefault("serial.runtime_retry.delay", "10s")

	// Endpoint defaults
	v.SetDefault("endpoint.host", "localhost")
	v.SetDefault("endpoint.port", 80)
	v.SetDefault("endpoint.path", StreamUpdatePath)
	v.SetDefault("endpoint.url", "")
	v.SetDefault("endpoint.token", "")
	v.SetDefault("endpoint.retry_delay", "2s")
	v.SetDefault("endpoint.handshake_timeout", "10s")
	v.SetDefault("endpoint.ack_timeout", "0s")
	v.SetDefault("endpoint.write_timeout", "10s")

	// Supervisor defaults
	v.SetDefault("supervisor.poll_interval", "100ms")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.quiet", false)

	// Status server defaults
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.host", "127.0.0.1")
	v.SetDefault("status.port", "9110")
	v.SetDefault("status.read_timeout", "5s")
	v.SetDefault("status.write_timeout", "5s")

	// App defaults
	v.SetDefault("app.name", "tic-relay")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "production")
}

// normalize folds case-insensitive settings onto their canonical form
func normalize(config *Config) {
	config.Serial.Parity = strings.ToUpper(strings.TrimSpace(config.Serial.Parity))
	config.Logging.Level = strings.ToLower(strings.TrimSpace(config.Logging.Level))
}

// validate validates the configuration
func validate(config *Config) error {
	if err := validateSerial(&config.Serial); err != nil {
		return err
	}
	if err := validateEndpoint(&config.Endpoint); err != nil {
		return err
	}

	if config.Supervisor.PollInterval <= 0 {
		return fmt.Errorf("supervisor.poll_interval must be positive")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func validateSerial(cfg *SerialConfig) error {
	if cfg.Device == "" {
		return fmt.Errorf("serial.device is required")
	}

	validRates := []int{1200, 2400, 4800, 9600}
	if !slices.Contains(validRates, cfg.BaudRate) {
		return fmt.Errorf("serial.baud_rate must be one of: %v", validRates)
	}

	if cfg.ByteSize < 5 || cfg.ByteSize > 8 {
		return fmt.Errorf("serial.byte_size must be between 5 and 8")
	}

	validParities := []string{"N", "E", "O", "S", "M"}
	if !slices.Contains(validParities, cfg.Parity) {
		return fmt.Errorf("serial.parity must be one of: %v", validParities)
	}

	validStopBits := []float64{1, 1.5, 2}
	if !slices.Contains(validStopBits, cfg.StopBits) {
		return fmt.Errorf("serial.stop_bits must be one of: %v", validStopBits)
	}

	if !validLine(cfg.RTS) {
		return fmt.Errorf("serial.rts must be 0 or 1")
	}
	if !validLine(cfg.DTR) {
		return fmt.Errorf("serial.dtr must be 0 or 1")
	}

	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("serial.read_timeout must be positive")
	}
	if cfg.StartupRetry.MaxAttempts < 0 || cfg.RuntimeRetry.MaxAttempts < 0 {
		return fmt.Errorf("serial retry max_attempts cannot be negative")
	}
	if cfg.StartupRetry.Delay < 0 || cfg.RuntimeRetry.Delay < 0 {
		return fmt.Errorf("serial retry delay cannot be negative")
	}

	return nil
}

func validLine(state int) bool {
	return state == UnsetLine || state == 0 || state == 1
}

func validateEndpoint(cfg *EndpointConfig) error {
	if cfg.Token == "" {
		return fmt.Errorf("endpoint.token is required")
	}

	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return fmt.Errorf("endpoint.url is invalid: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("endpoint.url scheme must be ws or wss, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("endpoint.url must include a host")
		}
	} else {
		if cfg.Host == "" {
			return fmt.Errorf("endpoint.host is required")
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			return fmt.Errorf("invalid endpoint.port: %d", cfg.Port)
		}
	}

	if cfg.RetryDelay <= 0 {
		return fmt.Errorf("endpoint.retry_delay must be positive")
	}
	if cfg.AckTimeout < 0 {
		return fmt.Errorf("endpoint.ack_timeout cannot be negative")
	}

	return nil
}

// GetURL returns the websocket URL of the ingestion endpoint
func (c *EndpointConfig) GetURL() string {
	if c.URL != "" {
		return c.URL
	}

	path := c.Path
	if path == "" {
		path = StreamUpdatePath
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   path,
	}
	return u.String()
}

// GetStatusAddr returns the status server address
func (c *Config) GetStatusAddr() string {
	return net.JoinHostPort(c.Status.Host, c.Status.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
