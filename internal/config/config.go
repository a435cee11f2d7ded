package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// WeightTolerance bounds how far a weight set may drift from summing to 1.
const WeightTolerance = 1e-9

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Liveness  LivenessConfig  `json:"liveness" yaml:"liveness"`
	Deepfake  DeepfakeConfig  `json:"deepfake" yaml:"deepfake"`
	Decision  DecisionConfig  `json:"decision" yaml:"decision"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Supervise SuperviseConfig `json:"supervise" yaml:"supervise"`
}

type LivenessConfig struct {
	BlinkCloseEAR        float64         `json:"blink_close_ear" yaml:"blink_close_ear"`
	BlinkOpenEAR         float64         `json:"blink_open_ear" yaml:"blink_open_ear"`
	BlinkMinClosedFrames int             `json:"blink_min_closed_frames" yaml:"blink_min_closed_frames"`
	HeadTurnYaw          float64         `json:"head_turn_yaw" yaml:"head_turn_yaw"`
	NodPitch             float64         `json:"nod_pitch" yaml:"nod_pitch"`
	MouthOpenRatio       float64         `json:"mouth_open_ratio" yaml:"mouth_open_ratio"`
	MouthOpenFrames      int             `json:"mouth_open_frames" yaml:"mouth_open_frames"`
	SmileGain            float64         `json:"smile_gain" yaml:"smile_gain"`
	MinFaceConfidence    float64         `json:"min_face_confidence" yaml:"min_face_confidence"`
	DecayFactor          float64         `json:"decay_factor" yaml:"decay_factor"`
	Weights              LivenessWeights `json:"weights" yaml:"weights"`
}

type LivenessWeights struct {
	Blink      float64 `json:"blink" yaml:"blink"`
	Head       float64 `json:"head" yaml:"head"`
	Mouth      float64 `json:"mouth" yaml:"mouth"`
	Expression float64 `json:"expression" yaml:"expression"`
}

func (w LivenessWeights) Sum() float64 {
	return w.Blink + w.Head + w.Mouth + w.Expression
}

type DeepfakeConfig struct {
	Weights            DeepfakeWeights `json:"weights" yaml:"weights"`
	FrameThreshold     float64         `json:"frame_threshold" yaml:"frame_threshold"`
	SuspectRatioFloor  float64         `json:"suspect_ratio_floor" yaml:"suspect_ratio_floor"`
	SharpnessRef       float64         `json:"sharpness_ref" yaml:"sharpness_ref"`
	EdgeDensityRef     float64         `json:"edge_density_ref" yaml:"edge_density_ref"`
	BlinkHistory       int             `json:"blink_history" yaml:"blink_history"`
	BlinkRateMin       float64         `json:"blink_rate_min" yaml:"blink_rate_min"`
	BlinkRateMax       float64         `json:"blink_rate_max" yaml:"blink_rate_max"`
	BlinkMinWindow     time.Duration   `json:"blink_min_window" yaml:"blink_min_window"`
	BlinkAbsenceWindow time.Duration   `json:"blink_absence_window" yaml:"blink_absence_window"`
	TemporalHistory    int             `json:"temporal_history" yaml:"temporal_history"`
	FrozenDiff         float64         `json:"frozen_diff" yaml:"frozen_diff"`
	FlickerZ           float64         `json:"flicker_z" yaml:"flicker_z"`
	IODRatioMin        float64         `json:"iod_ratio_min" yaml:"iod_ratio_min"`
	IODRatioMax        float64         `json:"iod_ratio_max" yaml:"iod_ratio_max"`
	AspectMin          float64         `json:"aspect_min" yaml:"aspect_min"`
	AspectMax          float64         `json:"aspect_max" yaml:"aspect_max"`
	GeometryMaxJump    float64         `json:"geometry_max_jump" yaml:"geometry_max_jump"`
}

type DeepfakeWeights struct {
	Texture      float64 `json:"texture" yaml:"texture"`
	BlinkPattern float64 `json:"blink_pattern" yaml:"blink_pattern"`
	Geometry     float64 `json:"geometry" yaml:"geometry"`
	Temporal     float64 `json:"temporal" yaml:"temporal"`
}

func (w DeepfakeWeights) Sum() float64 {
	return w.Texture + w.BlinkPattern + w.Geometry + w.Temporal
}

type DecisionConfig struct {
	LivenessThreshold  float64 `json:"liveness_threshold" yaml:"liveness_threshold"`
	DeepfakeThreshold  float64 `json:"deepfake_threshold" yaml:"deepfake_threshold"`
	PresenceFloor      float64 `json:"presence_floor" yaml:"presence_floor"`
	MultiFaceTolerance float64 `json:"multi_face_tolerance" yaml:"multi_face_tolerance"`
}

type SessionConfig struct {
	TTL               time.Duration `json:"ttl" yaml:"ttl"`
	Challenges        []string      `json:"challenges" yaml:"challenges"`
	HistoryCapacity   int           `json:"history_capacity" yaml:"history_capacity"`
	SweepInterval     time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	TerminalRetention time.Duration `json:"terminal_retention" yaml:"terminal_retention"`
	Workers           int           `json:"workers" yaml:"workers"`
	WorkerBuffer      int           `json:"worker_buffer" yaml:"worker_buffer"`
}

type AlertsConfig struct {
	StoreLimit        int           `json:"store_limit" yaml:"store_limit"`
	DispatchBuffer    int           `json:"dispatch_buffer" yaml:"dispatch_buffer"`
	CriticalBand      float64       `json:"critical_band" yaml:"critical_band"`
	HighBand          float64       `json:"high_band" yaml:"high_band"`
	AnomalyBand       float64       `json:"anomaly_band" yaml:"anomaly_band"`
	MinDeepfakeFrames int           `json:"min_deepfake_frames" yaml:"min_deepfake_frames"`
	RenotifyCooldown  time.Duration `json:"renotify_cooldown" yaml:"renotify_cooldown"`
}

type NotifyConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Log     LogNotify     `json:"log" yaml:"log"`
	Webhook WebhookNotify `json:"webhook" yaml:"webhook"`
	Kafka   KafkaNotify   `json:"kafka" yaml:"kafka"`
}

type LogNotify struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type WebhookNotify struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	URL             string        `json:"url" yaml:"url"`
	Channels        []string      `json:"channels" yaml:"channels"`
	RatePerMinute   int           `json:"rate_per_minute" yaml:"rate_per_minute"`
	Retries         int           `json:"retries" yaml:"retries"`
	RetryBackoff    time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	BreakerFailures uint32        `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `json:"breaker_open_for" yaml:"breaker_open_for"`
}

type KafkaNotify struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Brokers  []string `json:"brokers" yaml:"brokers"`
	Topic    string   `json:"topic" yaml:"topic"`
	Channels []string `json:"channels" yaml:"channels"`
}

type IngestConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type SuperviseConfig struct {
	FailureThreshold float64       `json:"failure_threshold" yaml:"failure_threshold"`
	FailureDecay     float64       `json:"failure_decay" yaml:"failure_decay"`
	FailureBackoff   time.Duration `json:"failure_backoff" yaml:"failure_backoff"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReloadInterval   time.Duration `json:"reload_interval" yaml:"reload_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Liveness: LivenessConfig{
			BlinkCloseEAR:        0.15,
			BlinkOpenEAR:         0.2,
			BlinkMinClosedFrames: 2,
			HeadTurnYaw:          0.15,
			NodPitch:             0.08,
			MouthOpenRatio:       0.35,
			MouthOpenFrames:      2,
			SmileGain:            1.15,
			MinFaceConfidence:    0.5,
			DecayFactor:          0.9,
			Weights:              LivenessWeights{Blink: 0.30, Head: 0.40, Mouth: 0.20, Expression: 0.10},
		},
		Deepfake: DeepfakeConfig{
			Weights:            DeepfakeWeights{Texture: 0.35, BlinkPattern: 0.25, Geometry: 0.20, Temporal: 0.20},
			FrameThreshold:     0.6,
			SuspectRatioFloor:  0.1,
			SharpnessRef:       500,
			EdgeDensityRef:     0.1,
			BlinkHistory:       300,
			BlinkRateMin:       10,
			BlinkRateMax:       25,
			BlinkMinWindow:     10 * time.Second,
			BlinkAbsenceWindow: 15 * time.Second,
			TemporalHistory:    30,
			FrozenDiff:         1.0,
			FlickerZ:           3.0,
			IODRatioMin:        0.35,
			IODRatioMax:        0.75,
			AspectMin:          0.55,
			AspectMax:          1.1,
			GeometryMaxJump:    0.08,
		},
		Decision: DecisionConfig{
			LivenessThreshold:  0.5,
			DeepfakeThreshold:  0.6,
			PresenceFloor:      0.7,
			MultiFaceTolerance: 0.05,
		},
		Session: SessionConfig{
			TTL:               5 * time.Minute,
			Challenges:        []string{"blink", "head_turn", "mouth_open"},
			HistoryCapacity:   300,
			SweepInterval:     5 * time.Second,
			TerminalRetention: 10 * time.Minute,
			Workers:           8,
			WorkerBuffer:      256,
		},
		Alerts: AlertsConfig{
			StoreLimit:        1000,
			DispatchBuffer:    1024,
			CriticalBand:      0.85,
			HighBand:          0.75,
			AnomalyBand:       0.55,
			MinDeepfakeFrames: 30,
			RenotifyCooldown:  30 * time.Second,
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
			Log:     LogNotify{Enabled: true},
			Webhook: WebhookNotify{
				Enabled:         false,
				Channels:        []string{"chat"},
				RatePerMinute:   60,
				Retries:         2,
				RetryBackoff:    500 * time.Millisecond,
				BreakerFailures: 5,
				BreakerOpenFor:  30 * time.Second,
			},
			Kafka: KafkaNotify{Enabled: false, Topic: "faceguard.alerts", Channels: []string{"email", "sms"}},
		},
		Ingest:  IngestConfig{Kafka: KafkaConfig{Enabled: false}},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:faceguard.db?_pragma=busy_timeout(5000)"},
		Supervise: SuperviseConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			ReloadInterval:   3 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if len(cfg.Session.Challenges) == 0 {
		cfg.Session.Challenges = def.Session.Challenges
	}
	if cfg.Session.HistoryCapacity <= 0 {
		cfg.Session.HistoryCapacity = def.Session.HistoryCapacity
	}
	if cfg.Session.Workers <= 0 {
		cfg.Session.Workers = def.Session.Workers
	}
	if cfg.Session.WorkerBuffer <= 0 {
		cfg.Session.WorkerBuffer = def.Session.WorkerBuffer
	}
	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = def.Session.SweepInterval
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Alerts.DispatchBuffer <= 0 {
		cfg.Alerts.DispatchBuffer = def.Alerts.DispatchBuffer
	}
	if cfg.Deepfake.BlinkHistory <= 0 {
		cfg.Deepfake.BlinkHistory = def.Deepfake.BlinkHistory
	}
	if cfg.Deepfake.TemporalHistory <= 0 {
		cfg.Deepfake.TemporalHistory = def.Deepfake.TemporalHistory
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = def.Notify.Timeout
	}
	if cfg.Supervise.ReloadInterval <= 0 {
		cfg.Supervise.ReloadInterval = def.Supervise.ReloadInterval
	}
}

// knownChallenges mirrors the liveness catalog; config cannot import it.
var knownChallenges = map[string]bool{
	"blink":      true,
	"head_turn":  true,
	"mouth_open": true,
	"smile":      true,
	"nod":        true,
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	unit := []struct {
		name  string
		value float64
	}{
		{"liveness.blink_close_ear", cfg.Liveness.BlinkCloseEAR},
		{"liveness.blink_open_ear", cfg.Liveness.BlinkOpenEAR},
		{"liveness.head_turn_yaw", cfg.Liveness.HeadTurnYaw},
		{"liveness.nod_pitch", cfg.Liveness.NodPitch},
		{"liveness.mouth_open_ratio", cfg.Liveness.MouthOpenRatio},
		{"liveness.min_face_confidence", cfg.Liveness.MinFaceConfidence},
		{"liveness.decay_factor", cfg.Liveness.DecayFactor},
		{"deepfake.frame_threshold", cfg.Deepfake.FrameThreshold},
		{"deepfake.suspect_ratio_floor", cfg.Deepfake.SuspectRatioFloor},
		{"deepfake.edge_density_ref", cfg.Deepfake.EdgeDensityRef},
		{"deepfake.geometry_max_jump", cfg.Deepfake.GeometryMaxJump},
		{"decision.liveness_threshold", cfg.Decision.LivenessThreshold},
		{"decision.deepfake_threshold", cfg.Decision.DeepfakeThreshold},
		{"decision.presence_floor", cfg.Decision.PresenceFloor},
		{"decision.multi_face_tolerance", cfg.Decision.MultiFaceTolerance},
		{"alerts.critical_band", cfg.Alerts.CriticalBand},
		{"alerts.high_band", cfg.Alerts.HighBand},
		{"alerts.anomaly_band", cfg.Alerts.AnomalyBand},
	}
	for _, u := range unit {
		if math.IsNaN(u.value) || u.value < 0 || u.value > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", u.name, u.value)
		}
	}
	positive := []struct {
		name  string
		value float64
	}{
		{"liveness.head_turn_yaw", cfg.Liveness.HeadTurnYaw},
		{"liveness.nod_pitch", cfg.Liveness.NodPitch},
		{"liveness.mouth_open_ratio", cfg.Liveness.MouthOpenRatio},
		{"liveness.decay_factor", cfg.Liveness.DecayFactor},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", p.name, p.value)
		}
	}
	if err := validateWeights("liveness.weights", cfg.Liveness.Weights.Sum(),
		cfg.Liveness.Weights.Blink, cfg.Liveness.Weights.Head, cfg.Liveness.Weights.Mouth, cfg.Liveness.Weights.Expression); err != nil {
		return err
	}
	if err := validateWeights("deepfake.weights", cfg.Deepfake.Weights.Sum(),
		cfg.Deepfake.Weights.Texture, cfg.Deepfake.Weights.BlinkPattern, cfg.Deepfake.Weights.Geometry, cfg.Deepfake.Weights.Temporal); err != nil {
		return err
	}
	if cfg.Liveness.BlinkCloseEAR >= cfg.Liveness.BlinkOpenEAR {
		return errors.New("liveness.blink_close_ear must be below liveness.blink_open_ear")
	}
	if cfg.Liveness.BlinkMinClosedFrames < 1 {
		return errors.New("liveness.blink_min_closed_frames must be >= 1")
	}
	if cfg.Liveness.MouthOpenFrames < 1 {
		return errors.New("liveness.mouth_open_frames must be >= 1")
	}
	if cfg.Liveness.SmileGain <= 1 {
		return errors.New("liveness.smile_gain must be > 1")
	}
	if cfg.Deepfake.SharpnessRef <= 0 {
		return errors.New("deepfake.sharpness_ref must be > 0")
	}
	if cfg.Deepfake.BlinkRateMin >= cfg.Deepfake.BlinkRateMax {
		return errors.New("deepfake.blink_rate_min must be below deepfake.blink_rate_max")
	}
	if cfg.Deepfake.IODRatioMin >= cfg.Deepfake.IODRatioMax {
		return errors.New("deepfake.iod_ratio_min must be below deepfake.iod_ratio_max")
	}
	if cfg.Deepfake.AspectMin >= cfg.Deepfake.AspectMax {
		return errors.New("deepfake.aspect_min must be below deepfake.aspect_max")
	}
	if cfg.Alerts.HighBand > cfg.Alerts.CriticalBand {
		return errors.New("alerts.high_band must not exceed alerts.critical_band")
	}
	if cfg.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0, got %s", cfg.Session.TTL)
	}
	for _, c := range cfg.Session.Challenges {
		if !knownChallenges[c] {
			return fmt.Errorf("session.challenges contains unknown challenge %q", c)
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL == "" {
		return errors.New("notify.webhook.url required when notify.webhook.enabled is true")
	}
	if cfg.Notify.Kafka.Enabled && (len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "") {
		return errors.New("notify.kafka requires brokers and topic")
	}
	return nil
}

func validateWeights(name string, sum float64, weights ...float64) error {
	for _, w := range weights {
		if math.IsNaN(w) || w < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%s must sum to 1, got %v", name, sum)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves cfg without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// Reload reads the file again. The file's mod time is recorded even when
// it is rejected, so Watch reports a bad edit once rather than every tick.
func (m *Manager) Reload() (*Config, error) {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the config file and swaps in a new snapshot when it changes.
// An invalid file is reported through onError and the old snapshot stays.
func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
