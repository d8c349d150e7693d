package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	SentryDSN   string
	Environment string

	// External collaborators
	FollowUpURL        string
	BatchTranscribeURL string
	LiveProbeURL       string
	SpeechURL          string
	SpeechVoiceID      string

	// Conversation flow
	CheckpointInterval int
	CompleteDelay      time.Duration

	// Capture
	Countdown    time.Duration
	MaxRecording time.Duration
	SampleRate   int

	// Apple push notifications
	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsBundleID   string
	APNsProduction bool
}

func LoadConfigFromEnv() Config {
	return Config{
		DatabaseURL: getenv("DATABASE_URL", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),
		Environment: getenv("ENVIRONMENT", "development"),

		FollowUpURL:        getenv("FOLLOWUP_URL", ""),
		BatchTranscribeURL: getenv("BATCH_TRANSCRIBE_URL", ""),
		LiveProbeURL:       getenv("LIVE_PROBE_URL", ""),
		SpeechURL:          getenv("SPEECH_URL", ""),
		SpeechVoiceID:      getenv("SPEECH_VOICE_ID", ""),

		CheckpointInterval: getenvInt("CHECKPOINT_INTERVAL", 5),
		CompleteDelay:      getenvDuration("COMPLETE_DELAY", 1500*time.Millisecond),

		Countdown:    getenvDuration("CAPTURE_COUNTDOWN", 3*time.Second),
		MaxRecording: getenvDuration("CAPTURE_MAX_DURATION", 300*time.Second),
		SampleRate:   getenvInt("CAPTURE_SAMPLE_RATE", 16000),

		APNsKeyPath:    getenv("APNS_KEY_PATH", ""),
		APNsKeyID:      getenv("APNS_KEY_ID", ""),
		APNsTeamID:     getenv("APNS_TEAM_ID", ""),
		APNsBundleID:   getenv("APNS_BUNDLE_ID", ""),
		APNsProduction: getenv("APNS_PRODUCTION", "") == "true",
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
