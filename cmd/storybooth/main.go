// Command storybooth runs one guided conversation from the terminal. It is a
// thin presentation layer over the capture engine, useful for exercising the
// full record/confirm/follow-up loop without a client app.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/davidkral/storybooth/internal/app"
	"github.com/davidkral/storybooth/internal/capture"
	"github.com/davidkral/storybooth/internal/flow"
)

func main() {
	cfg := app.LoadConfigFromEnv()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		})
		if err != nil {
			logger.Printf("sentry init failed: %v", err)
		} else {
			logger.Printf("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	source := capture.NewPulseSource("storybooth")

	a, err := app.New(cfg, source, logger)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatalf("init app: %v", err)
	}
	defer a.Close()

	question := strings.Join(os.Args[1:], " ")
	if question == "" {
		question = "Tell me about a place that shaped who you are."
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv, release, err := a.NewConversation(app.ConversationRequest{
		Question:     question,
		QuestionType: "open",
	})
	if err != nil {
		logger.Fatalf("start conversation: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer release()

		outcome := conv.Run(ctx)
		if outcome.Saved {
			fmt.Printf("\nSaved conversation %s (%d exchanges, +%d credits)\n",
				outcome.SavedID, outcome.Exchanges, outcome.AwardedCredit)
		} else {
			fmt.Printf("\nConversation closed without saving (%d exchanges)\n", outcome.Exchanges)
		}
	}()

	go readCommands(ctx, conv)

	select {
	case <-done:
	case <-ctx.Done():
		a.Drain()
		<-done
	}
}

// readCommands maps terminal input onto conversation commands. One command
// per line; anything unrecognized prints the help.
func readCommands(ctx context.Context, conv *flow.Conversation) {
	fmt.Printf("Question: %s\n", conv.CurrentQuestion())
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")

		var err error
		switch cmd {
		case "record":
			err = conv.StartCapture(capture.ModeVoice)
		case "stop":
			err = conv.StopCapture()
		case "text":
			err = conv.SubmitText(arg)
		case "edit":
			err = conv.Edit(arg)
		case "confirm":
			err = conv.Confirm()
		case "rerecord":
			err = conv.ReRecord()
		case "skip":
			err = conv.Skip()
		case "cancel":
			err = conv.Cancel()
		case "continue":
			err = conv.KeepGoing()
		case "finish":
			err = conv.Finish()
		case "save":
			err = conv.Save(arg, nil)
		case "discard":
			err = conv.Discard()
		case "status":
			fmt.Printf("Question: %s\nPending: %s\n", conv.CurrentQuestion(), conv.PendingTranscript())
			if live := conv.LiveTranscript(); live != "" {
				fmt.Printf("Hearing: %s\n", live)
			}
			if n := conv.Notice(); n != "" {
				fmt.Printf("Notice: %s\n", n)
			}
		case "":
		default:
			printHelp()
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  record / stop        start and stop voice capture
  text <answer>        type the answer instead of recording
  edit <text>          change the pending transcript
  confirm / rerecord   accept or redo the pending turn
  continue / finish    checkpoint choices
  save [audience]      persist from the review screen
  skip, cancel, discard, status`)
}
