package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"fan-monitor/monitor"
)

const (
	// DefaultConfigFile はデフォルトの設定ファイル名
	DefaultConfigFile = "config.toml"

	EnvEmail     = "VESYNC_EMAIL"
	EnvPassword  = "VESYNC_PASSWORD"
	EnvSecretKey = "FAN_MONITOR_SECRET_KEY"
)

// Config はアプリケーション全体の設定を表す
type Config struct {
	Debug     bool   `toml:"debug" yaml:"debug"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	Log       struct {
		Filename string `toml:"filename" yaml:"filename"`
	} `toml:"log" yaml:"log"`
	HTTPServer struct {
		Host string `toml:"host" yaml:"host"`
		Port int    `toml:"port" yaml:"port"`
	} `toml:"http_server" yaml:"http_server"`
	TLS struct {
		Enabled  bool   `toml:"enabled" yaml:"enabled"`
		CertFile string `toml:"cert_file" yaml:"cert_file"`
		KeyFile  string `toml:"key_file" yaml:"key_file"`
	} `toml:"tls" yaml:"tls"`
	VeSync struct {
		Email    string `toml:"email" yaml:"email"`
		Password string `toml:"password" yaml:"password"`
		TimeZone string `toml:"timezone" yaml:"timezone"`
		BaseURL  string `toml:"base_url" yaml:"base_url"`
	} `toml:"vesync" yaml:"vesync"`

	// Durations are Go duration strings, e.g. "10s", "2m"
	Poll struct {
		MinInterval         string `toml:"min_interval" yaml:"min_interval"`
		MaxInterval         string `toml:"max_interval" yaml:"max_interval"`
		RampDuration        string `toml:"ramp_duration" yaml:"ramp_duration"`
		MaxStateAge         string `toml:"max_state_age" yaml:"max_state_age"`
		DetectTick          string `toml:"detect_tick" yaml:"detect_tick"`
		FetchTimeout        string `toml:"fetch_timeout" yaml:"fetch_timeout"`
		InitAttempts        int    `toml:"init_attempts" yaml:"init_attempts"`
		InitRetryDelay      string `toml:"init_retry_delay" yaml:"init_retry_delay"`
		ReinitAfterFailures int    `toml:"reinit_after_failures" yaml:"reinit_after_failures"`
	} `toml:"poll" yaml:"poll"`
	MQTT struct {
		Enabled     bool   `toml:"enabled" yaml:"enabled"`
		Broker      string `toml:"broker" yaml:"broker"`
		TopicPrefix string `toml:"topic_prefix" yaml:"topic_prefix"`
		ClientID    string `toml:"client_id" yaml:"client_id"`
	} `toml:"mqtt" yaml:"mqtt"`
}

// NewConfig はデフォルト設定を持つConfigを作成する
func NewConfig() *Config {
	cfg := &Config{}
	cfg.Log.Filename = "fan-monitor.log"
	cfg.HTTPServer.Host = "0.0.0.0"
	cfg.HTTPServer.Port = 5000

	defaults := monitor.DefaultOptions()
	cfg.Poll.MinInterval = defaults.MinInterval.String()
	cfg.Poll.MaxInterval = defaults.MaxInterval.String()
	cfg.Poll.RampDuration = defaults.RampDuration.String()
	cfg.Poll.MaxStateAge = defaults.MaxStateAge.String()
	cfg.Poll.DetectTick = defaults.DetectTick.String()
	cfg.Poll.FetchTimeout = defaults.FetchTimeout.String()
	cfg.Poll.InitAttempts = defaults.InitAttempts
	cfg.Poll.InitRetryDelay = defaults.InitRetryDelay.String()
	cfg.Poll.ReinitAfterFailures = defaults.ReinitAfterFailures

	cfg.MQTT.Broker = "localhost:1883"
	cfg.MQTT.TopicPrefix = "fan-monitor"
	cfg.MQTT.ClientID = "fan-monitor"
	return cfg
}

// LoadConfig は設定を読み込む
// 以下の優先順位でロードする:
// 1. 指定されたパスの設定ファイル（指定がある場合）
// 2. カレントディレクトリのデフォルト設定ファイル（存在する場合）
// 3. デフォルト設定
//
// .yaml/.yml files are decoded as YAML, anything else as TOML.
// ${VAR} references are expanded from the environment first.
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			return config, nil
		}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", filePath, err)
		}
	default:
		if _, err := toml.Decode(expanded, config); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", filePath, err)
		}
	}

	return config, nil
}

// ApplyEnvironment overrides credentials with the environment variables
// that are set.
func (c *Config) ApplyEnvironment() {
	if v, ok := os.LookupEnv(EnvEmail); ok {
		c.VeSync.Email = v
	}
	if v, ok := os.LookupEnv(EnvPassword); ok {
		c.VeSync.Password = v
	}
	if v, ok := os.LookupEnv(EnvSecretKey); ok {
		c.SecretKey = v
	}
}

// ApplyCommandLineArgs はコマンドライン引数で指定された値を設定に適用する
func (c *Config) ApplyCommandLineArgs(args CommandLineArgs) {
	if args.DebugSpecified {
		c.Debug = args.Debug
	}
	if args.LogFilenameSpecified {
		c.Log.Filename = args.LogFilename
	}
	if args.HTTPServerHostSpecified {
		c.HTTPServer.Host = args.HTTPServerHost
	}
	if args.HTTPServerPortSpecified {
		c.HTTPServer.Port = args.HTTPServerPort
	}
	if args.MinIntervalSpecified {
		c.Poll.MinInterval = args.MinInterval
	}
	if args.MaxIntervalSpecified {
		c.Poll.MaxInterval = args.MaxInterval
	}
	if args.MQTTEnabledSpecified {
		c.MQTT.Enabled = args.MQTTEnabled
	}
	if args.MQTTBrokerSpecified {
		c.MQTT.Broker = args.MQTTBroker
	}
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPServer.Host, c.HTTPServer.Port)
}

// SchedulerOptions converts the [poll] section.
func (c *Config) SchedulerOptions() (monitor.Options, error) {
	opts := monitor.Options{
		InitAttempts:        c.Poll.InitAttempts,
		ReinitAfterFailures: c.Poll.ReinitAfterFailures,
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"min_interval", c.Poll.MinInterval, &opts.MinInterval},
		{"max_interval", c.Poll.MaxInterval, &opts.MaxInterval},
		{"ramp_duration", c.Poll.RampDuration, &opts.RampDuration},
		{"max_state_age", c.Poll.MaxStateAge, &opts.MaxStateAge},
		{"detect_tick", c.Poll.DetectTick, &opts.DetectTick},
		{"fetch_timeout", c.Poll.FetchTimeout, &opts.FetchTimeout},
		{"init_retry_delay", c.Poll.InitRetryDelay, &opts.InitRetryDelay},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return monitor.Options{}, fmt.Errorf("poll.%s: %w", d.name, err)
		}
		if parsed < 0 {
			return monitor.Options{}, fmt.Errorf("poll.%s must not be negative: %s", d.name, d.value)
		}
		*d.dst = parsed
	}
	if err := opts.Validate(); err != nil {
		return monitor.Options{}, fmt.Errorf("poll: %w", err)
	}
	return opts, nil
}

// Validate checks the settings needed to start the server.
func (c *Config) Validate() error {
	var errs []error
	if c.VeSync.Email == "" {
		errs = append(errs, fmt.Errorf("vesync.email is required (or set %s)", EnvEmail))
	}
	if c.VeSync.Password == "" {
		errs = append(errs, fmt.Errorf("vesync.password is required (or set %s)", EnvPassword))
	}
	if c.HTTPServer.Port < 0 || c.HTTPServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("http_server.port out of range: %d", c.HTTPServer.Port))
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file are required when tls is enabled"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if _, err := c.SchedulerOptions(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CommandLineArgs はコマンドライン引数からの値を保持する
type CommandLineArgs struct {
	// 設定ファイル (メタ設定)
	ConfigFile      string
	ConfigSpecified bool

	Debug          bool
	DebugSpecified bool

	LogFilename          string
	LogFilenameSpecified bool

	HTTPServerHost          string
	HTTPServerHostSpecified bool
	HTTPServerPort          int
	HTTPServerPortSpecified bool

	MinInterval          string
	MinIntervalSpecified bool
	MaxInterval          string
	MaxIntervalSpecified bool

	MQTTEnabled          bool
	MQTTEnabledSpecified bool
	MQTTBroker           string
	MQTTBrokerSpecified  bool
}

// ParseCommandLineArgs はコマンドライン引数をパースする
func ParseCommandLineArgs(fs *flag.FlagSet, argv []string) (CommandLineArgs, error) {
	var args CommandLineArgs

	fs.StringVar(&args.ConfigFile, "config", "", "path of the TOML or YAML config file")
	fs.BoolVar(&args.Debug, "debug", false, "enable debug logging to stderr")
	fs.StringVar(&args.LogFilename, "log", "fan-monitor.log", "log file name")
	fs.StringVar(&args.HTTPServerHost, "http-host", "0.0.0.0", "HTTP server host")
	fs.IntVar(&args.HTTPServerPort, "http-port", 5000, "HTTP server port")
	fs.StringVar(&args.MinInterval, "min-interval", "10s", "poll interval right after a change")
	fs.StringVar(&args.MaxInterval, "max-interval", "30s", "poll interval when idle")
	fs.BoolVar(&args.MQTTEnabled, "mqtt", false, "mirror updates to an MQTT broker")
	fs.StringVar(&args.MQTTBroker, "mqtt-broker", "localhost:1883", "MQTT broker address")

	if err := fs.Parse(argv); err != nil {
		return args, err
	}

	// 明示的に指定されたフラグだけを設定ファイルより優先する
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			args.ConfigSpecified = true
		case "debug":
			args.DebugSpecified = true
		case "log":
			args.LogFilenameSpecified = true
		case "http-host":
			args.HTTPServerHostSpecified = true
		case "http-port":
			args.HTTPServerPortSpecified = true
		case "min-interval":
			args.MinIntervalSpecified = true
		case "max-interval":
			args.MaxIntervalSpecified = true
		case "mqtt":
			args.MQTTEnabledSpecified = true
		case "mqtt-broker":
			args.MQTTBrokerSpecified = true
		}
	})

	return args, nil
}
