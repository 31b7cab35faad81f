package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NodePath81/latprobe/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultAudioBackend    = "simulated"
	defaultAudioSampleRate = 44100
	defaultAudioBufferSize = 768

	defaultJitterTrialLength    = 2000
	defaultJitterWarmupSkip     = 100
	defaultJitterPulseBlock     = 50
	defaultJitterRenderPriority = 1

	defaultWakeTrials       = 100
	defaultWakePeriod       = 10 * time.Millisecond
	defaultWakeProducerNice = -19
	defaultWakeConsumerNice = -16

	defaultSweepDetectLength = 10000
	defaultSweepTrialLength  = 2000
	defaultSweepMaxDelay     = 100
	defaultSweepBadJitter    = 0.02
	defaultSweepBadRender    = 0.06
	defaultSweepBadLimit     = 2

	defaultStorePath = "latprobe.db"

	defaultServerAddr           = "127.0.0.1"
	defaultServerPort           = 8080
	defaultServerMaxConnections = 64
	defaultServerUploadRate     = 0.2
	defaultServerUploadBurst    = 5
	defaultServerMaxReportSize  = "256kb"
	defaultServerListLimit      = 50
	defaultServerGuestbookLimit = 10
	defaultServerMetricsEnabled = true

	defaultUploadTimeout = 30 * time.Second

	defaultLogLevel = "info"

	maxTrialLength = 10000
	maxBufferSize  = 4096
)

// Backend names accepted by audio.backend.
const (
	BackendSimulated = "simulated"
	BackendOto       = "oto"
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Audio  AudioConfig  `yaml:"audio"`
	Jitter JitterConfig `yaml:"jitter"`
	Wake   WakeConfig   `yaml:"wake"`
	Sweep  SweepConfig  `yaml:"sweep"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
	Upload UploadConfig `yaml:"upload"`
	Log    LogConfig    `yaml:"log"`
}

type AudioConfig struct {
	Backend    string `yaml:"backend"`
	SampleRate int    `yaml:"sample_rate"`
	BufferSize int    `yaml:"buffer_size"`
}

// JitterConfig holds the session parameters. Delays are in spin units of
// about 100us.
type JitterConfig struct {
	TrialLength    int  `yaml:"trial_length"`
	Lookahead      int  `yaml:"lookahead"`
	WarmupSkip     int  `yaml:"warmup_skip"`
	PulseBlock     int  `yaml:"pulse_block"`
	CallbackDelay  int  `yaml:"callback_delay"`
	RenderDelay    int  `yaml:"render_delay"`
	Pulse          bool `yaml:"pulse"`
	RenderPriority *int `yaml:"render_priority"`
}

type WakeConfig struct {
	Trials       int      `yaml:"trials"`
	Period       Duration `yaml:"period"`
	ProducerNice *int     `yaml:"producer_nice"`
	ConsumerNice *int     `yaml:"consumer_nice"`
	SkipPriority bool     `yaml:"skip_priority"`
}

type SweepConfig struct {
	DetectLength int     `yaml:"detect_length"`
	TrialLength  int     `yaml:"trial_length"`
	MaxDelay     int     `yaml:"max_delay"`
	BadJitter    float64 `yaml:"bad_jitter"`
	BadRender    float64 `yaml:"bad_render"`
	BadLimit     int     `yaml:"bad_limit"`
	SampleRates  []int   `yaml:"sample_rates"`
	Calibrate    bool    `yaml:"calibrate"`
	// Confident keeps audio.buffer_size instead of the detected size.
	Confident bool `yaml:"confident"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	BindAddr       string              `yaml:"bind_addr"`
	BindPort       int                 `yaml:"bind_port"`
	AuthToken      string              `yaml:"auth_token"`
	MaxConnections int                 `yaml:"max_connections"`
	UploadRate     float64             `yaml:"upload_rate"`
	UploadBurst    int                 `yaml:"upload_burst"`
	MaxReportSize  string              `yaml:"max_report_size"`
	ListLimit      int                 `yaml:"list_limit"`
	GuestbookLimit int                 `yaml:"guestbook_limit"`
	GeoIPDB        string              `yaml:"geoip_db"`
	Metrics        ServerMetricsConfig `yaml:"metrics"`

	MaxReportBytes uint32 `yaml:"-"`
}

type ServerMetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type UploadConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func (m ServerMetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultServerMetricsEnabled)
}

// LoadConfig reads, defaults and validates the YAML file at path.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfig decodes the YAML file at path without defaulting it, so that
// command-line overrides can be applied before Finalize. An empty path
// yields the zero configuration.
func ReadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() Config {
	var cfg Config
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return cfg
}

// Finalize applies defaults and validation after flag overrides.
func (c *Config) Finalize() error {
	c.setDefaults()
	return c.validate()
}

func (c *Config) setDefaults() {
	if c.Audio.Backend == "" {
		c.Audio.Backend = defaultAudioBackend
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = defaultAudioSampleRate
	}
	if c.Audio.BufferSize == 0 {
		c.Audio.BufferSize = defaultAudioBufferSize
	}

	if c.Jitter.TrialLength == 0 {
		c.Jitter.TrialLength = defaultJitterTrialLength
	}
	if c.Jitter.WarmupSkip == 0 {
		c.Jitter.WarmupSkip = min(defaultJitterWarmupSkip, c.Jitter.TrialLength-1)
	}
	if c.Jitter.PulseBlock == 0 {
		c.Jitter.PulseBlock = defaultJitterPulseBlock
	}
	if c.Jitter.RenderPriority == nil {
		prio := defaultJitterRenderPriority
		c.Jitter.RenderPriority = &prio
	}

	if c.Wake.Trials == 0 {
		c.Wake.Trials = defaultWakeTrials
	}
	if c.Wake.Period == 0 {
		c.Wake.Period = Duration(defaultWakePeriod)
	}
	if c.Wake.ProducerNice == nil {
		nice := defaultWakeProducerNice
		c.Wake.ProducerNice = &nice
	}
	if c.Wake.ConsumerNice == nil {
		nice := defaultWakeConsumerNice
		c.Wake.ConsumerNice = &nice
	}

	if c.Sweep.DetectLength == 0 {
		c.Sweep.DetectLength = defaultSweepDetectLength
	}
	if c.Sweep.TrialLength == 0 {
		c.Sweep.TrialLength = defaultSweepTrialLength
	}
	if c.Sweep.MaxDelay == 0 {
		c.Sweep.MaxDelay = defaultSweepMaxDelay
	}
	if c.Sweep.BadJitter == 0 {
		c.Sweep.BadJitter = defaultSweepBadJitter
	}
	if c.Sweep.BadRender == 0 {
		c.Sweep.BadRender = defaultSweepBadRender
	}
	if c.Sweep.BadLimit == 0 {
		c.Sweep.BadLimit = defaultSweepBadLimit
	}
	if len(c.Sweep.SampleRates) == 0 {
		c.Sweep.SampleRates = []int{44100, 48000}
	}

	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}

	if c.Server.BindAddr == "" {
		c.Server.BindAddr = defaultServerAddr
	}
	if c.Server.BindPort == 0 {
		c.Server.BindPort = defaultServerPort
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = defaultServerMaxConnections
	}
	if c.Server.UploadRate == 0 {
		c.Server.UploadRate = defaultServerUploadRate
	}
	if c.Server.UploadBurst == 0 {
		c.Server.UploadBurst = defaultServerUploadBurst
	}
	if c.Server.MaxReportSize == "" {
		c.Server.MaxReportSize = defaultServerMaxReportSize
	}
	if c.Server.ListLimit == 0 {
		c.Server.ListLimit = defaultServerListLimit
	}
	if c.Server.GuestbookLimit == 0 {
		c.Server.GuestbookLimit = defaultServerGuestbookLimit
	}
	if c.Server.Metrics.Enabled == nil {
		enabled := defaultServerMetricsEnabled
		c.Server.Metrics.Enabled = &enabled
	}

	if c.Upload.Timeout == 0 {
		c.Upload.Timeout = Duration(defaultUploadTimeout)
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

func (c *Config) validate() error {
	c.Audio.Backend = strings.ToLower(strings.TrimSpace(c.Audio.Backend))
	switch c.Audio.Backend {
	case BackendSimulated, BackendOto:
	default:
		return fmt.Errorf("audio.backend must be %q or %q", BackendSimulated, BackendOto)
	}
	if c.Audio.SampleRate < 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.BufferSize < 0 || c.Audio.BufferSize > maxBufferSize {
		return fmt.Errorf("audio.buffer_size must be in 1..%d", maxBufferSize)
	}

	j := c.Jitter
	if j.TrialLength < 2 || j.TrialLength > maxTrialLength {
		return fmt.Errorf("jitter.trial_length must be in 2..%d", maxTrialLength)
	}
	if j.Lookahead < 0 || j.Lookahead >= j.TrialLength {
		return errors.New("jitter.lookahead must be in 0..trial_length-1")
	}
	if j.WarmupSkip < 0 || j.WarmupSkip >= j.TrialLength {
		return errors.New("jitter.warmup_skip must be in 0..trial_length-1")
	}
	if j.PulseBlock < 0 {
		return errors.New("jitter.pulse_block must be > 0")
	}
	if j.CallbackDelay < 0 || j.RenderDelay < 0 {
		return errors.New("jitter.callback_delay and render_delay must be >= 0")
	}
	if *j.RenderPriority < 0 || *j.RenderPriority > 99 {
		return errors.New("jitter.render_priority must be in 0..99")
	}

	if c.Wake.Trials < 0 {
		return errors.New("wake.trials must be > 0")
	}
	if c.Wake.Period.Duration() < 0 {
		return errors.New("wake.period must be > 0")
	}
	if err := validateNice("wake.producer_nice", *c.Wake.ProducerNice); err != nil {
		return err
	}
	if err := validateNice("wake.consumer_nice", *c.Wake.ConsumerNice); err != nil {
		return err
	}

	s := c.Sweep
	if s.DetectLength < 2 || s.DetectLength > maxTrialLength {
		return fmt.Errorf("sweep.detect_length must be in 2..%d", maxTrialLength)
	}
	if s.TrialLength < 2 || s.TrialLength > maxTrialLength {
		return fmt.Errorf("sweep.trial_length must be in 2..%d", maxTrialLength)
	}
	if s.MaxDelay < 0 {
		return errors.New("sweep.max_delay must be > 0")
	}
	if s.BadJitter < 0 || s.BadRender < 0 {
		return errors.New("sweep.bad_jitter and bad_render must be > 0")
	}
	if s.BadLimit < 0 {
		return errors.New("sweep.bad_limit must be > 0")
	}
	for _, sr := range s.SampleRates {
		if sr <= 0 {
			return fmt.Errorf("sweep.sample_rates: invalid rate %d", sr)
		}
	}

	c.Store.Path = strings.TrimSpace(c.Store.Path)

	if c.Server.BindPort <= 0 || c.Server.BindPort > 65535 {
		return errors.New("server.bind_port must be in 1..65535")
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must be > 0")
	}
	if c.Server.UploadRate < 0 || c.Server.UploadBurst < 0 {
		return errors.New("server.upload_rate and upload_burst must be > 0")
	}
	size, err := ParseSize(c.Server.MaxReportSize)
	if err != nil {
		return fmt.Errorf("server.max_report_size: %w", err)
	}
	if size == 0 {
		return errors.New("server.max_report_size must be > 0")
	}
	c.Server.MaxReportBytes = size
	if c.Server.ListLimit < 0 || c.Server.GuestbookLimit < 0 {
		return errors.New("server.list_limit and guestbook_limit must be > 0")
	}
	c.Server.GeoIPDB = strings.TrimSpace(c.Server.GeoIPDB)

	c.Upload.URL = strings.TrimRight(strings.TrimSpace(c.Upload.URL), "/")
	if c.Upload.URL != "" && !strings.HasPrefix(c.Upload.URL, "http://") && !strings.HasPrefix(c.Upload.URL, "https://") {
		return errors.New("upload.url must be an http or https URL")
	}
	if c.Upload.Timeout.Duration() < 0 {
		return errors.New("upload.timeout must be > 0")
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error: %q", c.Log.Level)
	}
	return nil
}

func validateNice(path string, nice int) error {
	if nice < -20 || nice > 19 {
		return fmt.Errorf("%s must be in -20..19", path)
	}
	return nil
}
