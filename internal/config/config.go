// Package config assembles process configuration from an optional YAML
// defaults file, a dotenv file, and the OS environment, grounded on
// cmd/gateway/config.go's envStr/envInt/envFloat helpers, extended with
// envBool/envDuration for the timing knobs the streaming VAD processor
// and dynamic correction need. Precedence, lowest to highest: hardcoded
// component defaults, the YAML defaults file, the OS environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/arch7tect/sip-gateway/internal/dotenv"
	"github.com/arch7tect/sip-gateway/internal/dynamiccorrection"
	"github.com/arch7tect/sip-gateway/internal/vadproc"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime tunable as an environment override,
// grouped by the component that consumes it.
type Config struct {
	AdmissionAddr  string
	AdmissionToken string

	BackendBaseURL   string
	BackendAuthToken string
	BackendPoolSize  int

	VAD       vadproc.Config
	Threshold dynamiccorrection.Config

	AudioPortCapacity int
	TTSMaxInflight    int

	InterruptionsAllowed bool
	SessionType          string
	Streaming            bool
	GreetingDelay        time.Duration
	SIPEarlyEOC          bool

	CallHistoryDSN string

	LogLevel string
}

// Load reads envPath (if present, overriding inherited environment values
// per [[dotenv]]'s inverted precedence) and returns a Config populated
// from the process environment with each component's own defaults as fallback.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := dotenv.LoadFile(envPath); err != nil {
			return Config{}, err
		}
	}

	vadCfg := vadproc.DefaultConfig()
	correctionCfg := dynamiccorrection.DefaultConfig()

	if defaultsPath := os.Getenv("CONFIG_DEFAULTS_FILE"); defaultsPath != "" {
		if err := applyDefaultsFile(defaultsPath, &vadCfg, &correctionCfg); err != nil {
			return Config{}, err
		}
	}

	vadCfg.SampleRate = envInt("VAD_SAMPLE_RATE", vadCfg.SampleRate)
	vadCfg.MinSpeechMs = envInt("VAD_MIN_SPEECH_MS", vadCfg.MinSpeechMs)
	vadCfg.MinSilenceMs = envInt("VAD_MIN_SILENCE_MS", vadCfg.MinSilenceMs)
	vadCfg.PadMs = envInt("VAD_PAD_MS", vadCfg.PadMs)
	vadCfg.ShortPauseMs = envInt("VAD_SHORT_PAUSE_MS", vadCfg.ShortPauseMs)
	vadCfg.LongPauseMs = envInt("VAD_LONG_PAUSE_MS", vadCfg.LongPauseMs)
	vadCfg.UserSilenceMs = envInt("VAD_USER_SILENCE_MS", vadCfg.UserSilenceMs)
	vadCfg.Threshold = float32(envFloat("VAD_THRESHOLD", float64(vadCfg.Threshold)))

	correctionCfg.EnterThreshold = envFloat("CORRECTION_ENTER_THRESHOLD", correctionCfg.EnterThreshold)
	correctionCfg.ExitThreshold = envFloat("CORRECTION_EXIT_THRESHOLD", correctionCfg.ExitThreshold)

	sessionType := envStr("SESSION_TYPE", "inbound")

	return Config{
		AdmissionAddr:  envStr("ADMISSION_ADDR", ":8443"),
		AdmissionToken: envStr("ADMISSION_TOKEN", ""),

		BackendBaseURL:   envStr("BACKEND_BASE_URL", ""),
		BackendAuthToken: envStr("BACKEND_AUTH_TOKEN", ""),
		BackendPoolSize:  envInt("BACKEND_POOL_SIZE", 16),

		VAD:       vadCfg,
		Threshold: correctionCfg,

		AudioPortCapacity: envInt("AUDIO_PORT_CAPACITY", 64),
		TTSMaxInflight:    envInt("TTS_MAX_INFLIGHT", 3),

		InterruptionsAllowed: envBool("INTERRUPTIONS_ALLOWED", true),
		SessionType:          sessionType,
		Streaming:            isStreaming(sessionType, envBool("IS_STREAMING", true)),
		GreetingDelay:        envDuration("GREETING_DELAY", 0),
		SIPEarlyEOC:          envBool("SIP_EARLY_EOC", false),

		CallHistoryDSN: envStr("CALL_HISTORY_DSN", ""),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}, nil
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

// isStreaming reproduces the legacy formula: a session only streams
// partial responses when its session type is neither "inbound" nor
// "outbound" and the streaming flag is set. Plain inbound/outbound SIP
// calls never stream, regardless of the flag.
func isStreaming(sessionType string, flag bool) bool {
	return sessionType != "inbound" && sessionType != "outbound" && flag
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// defaultsFile is the shape of the optional CONFIG_DEFAULTS_FILE YAML
// document. Every field is a pointer so an absent key leaves the
// hardcoded component default untouched.
type defaultsFile struct {
	VAD struct {
		MinSpeechMs   *int     `yaml:"min_speech_ms"`
		MinSilenceMs  *int     `yaml:"min_silence_ms"`
		PadMs         *int     `yaml:"pad_ms"`
		ShortPauseMs  *int     `yaml:"short_pause_ms"`
		LongPauseMs   *int     `yaml:"long_pause_ms"`
		UserSilenceMs *int     `yaml:"user_silence_ms"`
		Threshold     *float32 `yaml:"threshold"`
	} `yaml:"vad"`
	Correction struct {
		EnterThreshold *float64 `yaml:"enter_threshold"`
		ExitThreshold  *float64 `yaml:"exit_threshold"`
		SNRClip        *float64 `yaml:"snr_clip"`
	} `yaml:"correction"`
}

// applyDefaultsFile overrides vadCfg/correctionCfg's hardcoded defaults
// with values from the YAML file at path, before environment variables
// get their turn. Prefers a real parser for the format over hand-rolled
// config plumbing, the same "let a library own the format" preference
// applied elsewhere in this module to WAV decoding.
func applyDefaultsFile(path string, vadCfg *vadproc.Config, correctionCfg *dynamiccorrection.Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var df defaultsFile
	if err := yaml.Unmarshal(raw, &df); err != nil {
		return err
	}

	if df.VAD.MinSpeechMs != nil {
		vadCfg.MinSpeechMs = *df.VAD.MinSpeechMs
	}
	if df.VAD.MinSilenceMs != nil {
		vadCfg.MinSilenceMs = *df.VAD.MinSilenceMs
	}
	if df.VAD.PadMs != nil {
		vadCfg.PadMs = *df.VAD.PadMs
	}
	if df.VAD.ShortPauseMs != nil {
		vadCfg.ShortPauseMs = *df.VAD.ShortPauseMs
	}
	if df.VAD.LongPauseMs != nil {
		vadCfg.LongPauseMs = *df.VAD.LongPauseMs
	}
	if df.VAD.UserSilenceMs != nil {
		vadCfg.UserSilenceMs = *df.VAD.UserSilenceMs
	}
	if df.VAD.Threshold != nil {
		vadCfg.Threshold = *df.VAD.Threshold
	}

	if df.Correction.EnterThreshold != nil {
		correctionCfg.EnterThreshold = *df.Correction.EnterThreshold
	}
	if df.Correction.ExitThreshold != nil {
		correctionCfg.ExitThreshold = *df.Correction.ExitThreshold
	}
	if df.Correction.SNRClip != nil {
		correctionCfg.SNRClip = *df.Correction.SNRClip
	}

	return nil
}
