package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/feed"
)

// tail follows a debate session's message feed from the terminal, polling
// the server the same way a client UI would.
func main() {
	server := flag.String("server", "http://localhost:8080", "agora server base URL")
	session := flag.String("session", "", "session id to follow")
	interval := flag.Duration("interval", feed.DefaultPollInterval, "poll interval")
	suspendAfter := flag.Int("suspend-after", feed.DefaultSuspendAfter, "empty polls before the feed suspends")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *session == "" {
		log.Fatal().Msg("-session is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var printed int
	sync := feed.NewSynchronizer(feed.NewHTTPSource(*server), *session, feed.Options{
		PollInterval: *interval,
		SuspendAfter: *suspendAfter,
		OnUpdate: func(messages []domain.Message) {
			for _, msg := range messages[printed:] {
				speaker := msg.SpeakerID
				if msg.Role == domain.RoleUser {
					speaker = "user"
				}
				fmt.Printf("[%s] #%d %s: %s\n",
					msg.Timestamp.Format(time.TimeOnly), msg.Sequence, speaker, msg.Content)
			}
			printed = len(messages)
		},
	})

	sync.Start(ctx)
	defer sync.Close()

	log.Info().Str("session", *session).Msg("Following session, Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Report state transitions so a stalled feed is visible
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := sync.State()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if state := sync.State(); state != last {
				log.Info().Str("state", state.String()).Msg("Feed state changed")
				if state == feed.StateSuspended {
					log.Info().Msg("Feed suspended after idle polls, press Ctrl+C to exit")
				}
				last = state
			}
		}
	}
}
