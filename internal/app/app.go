// Package app wires the capture engine's collaborators together: database,
// transcription clients, follow-up generation, push notifications, and the
// conversation registry.
package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidkral/storybooth/internal/capture"
	"github.com/davidkral/storybooth/internal/eventlog"
	"github.com/davidkral/storybooth/internal/flow"
	"github.com/davidkral/storybooth/internal/followup"
	"github.com/davidkral/storybooth/internal/notify"
	"github.com/davidkral/storybooth/internal/registry"
	"github.com/davidkral/storybooth/internal/speech"
	"github.com/davidkral/storybooth/internal/store"
	"github.com/davidkral/storybooth/internal/stt"
)

type App struct {
	cfg    Config
	logger *log.Logger

	db       *pgxpool.Pool
	saver    store.Saver
	eventLog *eventlog.Logger

	httpClient *http.Client
	probe      *stt.Probe
	batch      *stt.BatchClient
	followUp   followup.Generator
	speaker    speech.Speaker
	notifier   *notify.APNsClient

	capture  *capture.Controller
	sessions *registry.Registry
}

// ErrDraining is returned by NewConversation during shutdown.
var ErrDraining = errors.New("app is draining, no new conversations")

// New builds the application. Without DATABASE_URL conversations are kept in
// memory only; without the probe/speech/APNs settings those collaborators
// degrade to no-ops.
func New(cfg Config, source capture.Source, logger *log.Logger) (*App, error) {
	if cfg.BatchTranscribeURL == "" {
		return nil, errors.New("BATCH_TRANSCRIBE_URL is required")
	}
	if cfg.FollowUpURL == "" {
		return nil, errors.New("FOLLOWUP_URL is required")
	}
	if source == nil {
		return nil, errors.New("a capture source is required")
	}

	a := &App{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.saver = store.New(db)
		a.eventLog = eventlog.New(db)
	} else {
		logger.Printf("app: no DATABASE_URL, conversations are stored in memory")
		a.saver = store.NewMemory()
	}

	// Shared HTTP client with connection pooling. The collaborators are a
	// small fixed set of hosts called repeatedly per conversation.
	a.httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	if cfg.LiveProbeURL != "" {
		a.probe = stt.NewProbe(cfg.LiveProbeURL, a.httpClient, logger)
	}
	a.batch = stt.NewBatchClient(cfg.BatchTranscribeURL, a.httpClient)
	a.followUp = followup.NewHTTPGenerator(cfg.FollowUpURL, a.httpClient)
	a.speaker = speech.NewHTTPSpeaker(cfg.SpeechURL, cfg.SpeechVoiceID, a.httpClient, logger)

	notifier, err := notify.NewAPNsClient(notify.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.notifier = notifier

	a.capture = capture.New(capture.Config{
		Countdown:   cfg.Countdown,
		MaxDuration: cfg.MaxRecording,
		SampleRate:  cfg.SampleRate,
	}, source, logger)
	a.sessions = registry.New()

	return a, nil
}

// ConversationRequest describes one conversation to run.
type ConversationRequest struct {
	Question     string
	QuestionType string
	DeviceToken  string   // push target for the saved notification, optional
	SharerName   string   // display name used in share invites
	ShareWith    []string // device tokens invited once the conversation saves
}

// NewConversation builds a conversation around the given question. The
// returned release function must be called when Run returns.
func (a *App) NewConversation(req ConversationRequest) (*flow.Conversation, func(), error) {
	if !a.sessions.Add() {
		return nil, nil, ErrDraining
	}

	cfg := flow.Config{
		OriginalQuestion:   req.Question,
		QuestionType:       req.QuestionType,
		CheckpointInterval: a.cfg.CheckpointInterval,
		CompleteDelay:      a.cfg.CompleteDelay,
	}
	if req.DeviceToken != "" || len(req.ShareWith) > 0 {
		cfg.OnComplete = func(o flow.Outcome) { a.notifyComplete(req, o) }
	}

	var prober flow.Prober
	if a.probe != nil {
		prober = a.probe
	}

	conv, err := flow.New(cfg, flow.Deps{
		Recorder: a.capture,
		Probe:    prober,
		DialSink: a.dialLiveSink,
		Batch:    a.batch,
		FollowUp: a.followUp,
		Speaker:  a.speaker,
		Saver:    a.saver,
		Events:   a.eventLog,
	}, a.logger)
	if err != nil {
		a.sessions.Done()
		return nil, nil, err
	}
	return conv, a.sessions.Done, nil
}

// notifyComplete pushes the saved notification to the owner and share
// invites to everyone the conversation was shared with.
func (a *App) notifyComplete(req ConversationRequest, o flow.Outcome) {
	if req.DeviceToken != "" {
		err := a.notifier.SendConversationSaved(req.DeviceToken, notify.SavedNotification{
			ConversationID: o.SavedID,
			Question:       req.Question,
			ExchangeCount:  o.Exchanges,
			AwardedCredit:  o.AwardedCredit,
		})
		if err != nil {
			a.logger.Printf("app: saved notification failed: %v", err)
		}
	}
	for _, token := range req.ShareWith {
		if err := a.notifier.SendShareInvite(token, req.SharerName, req.Question); err != nil {
			a.logger.Printf("app: share invite failed: %v", err)
		}
	}
}

func (a *App) dialLiveSink(ctx context.Context, cap stt.Capability) (capture.FrameSink, error) {
	return stt.DialLive(ctx, cap, stt.DefaultLiveConfig(), a.logger)
}

// Drain rejects new conversations and waits for running ones to finish.
func (a *App) Drain() {
	a.sessions.StartDraining()
	a.sessions.Wait()
}

func (a *App) Close() error {
	_ = a.capture.Close()
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
