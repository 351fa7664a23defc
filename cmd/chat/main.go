package main

import (
	"bufio"
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mkells/chatsync/internal/channel"
	"github.com/mkells/chatsync/internal/config"
	"github.com/mkells/chatsync/internal/service/conversation"
	"github.com/mkells/chatsync/internal/session"
	"github.com/mkells/chatsync/internal/store"
)

var welcomePairs = [][2]string{
	{"Hello!", "How can I help you today?"},
	{"Hi there!", "What can I assist you with?"},
	{"Greetings!", "Feel free to ask me anything."},
	{"Pleased to meet you!", "I'm ready to answer your questions."},
	{"Welcome aboard!", "Let me know how I can be of service."},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	st := openStore(cfg.Client.StatePath, logger)
	defer st.Close()

	ids := session.NewManager(st, logger)
	cache := session.NewCache(st, logger)
	presenter := newConsolePresenter(os.Stdout)

	svc := conversation.NewService(st, ids, cache, presenter, logger)

	client := channel.NewClient(channel.Options{
		URL:              cfg.Client.ServerURL,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		WriteTimeout:     cfg.Channel.WriteTimeout,
		ReadTimeout:      cfg.Channel.ReadTimeout,
		PingInterval:     cfg.Channel.PingInterval,
		BackoffMin:       cfg.Channel.BackoffMin,
		BackoffMax:       cfg.Channel.BackoffMax,
	}, ids, svc, logger)
	svc.AttachTransport(client)

	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("channel stopped")
		}
	}()

	state := svc.Start()
	if !state.HasStarted {
		pair := welcomePairs[rand.Intn(len(welcomePairs))]
		presenter.Notice(pair[0] + " " + pair[1])
	}
	presenter.Notice("type a message and press enter; /restart begins a new session, /quit exits")

	runInputLoop(ctx, svc, presenter)
}

func openStore(path string, logger zerolog.Logger) store.Store {
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).
			Msg("durable store unavailable, this session will not survive a restart")
		return store.NewMemoryStore()
	}
	return st
}

func runInputLoop(ctx context.Context, svc *conversation.Service, presenter *consolePresenter) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit", "/exit":
				return
			case "/restart":
				state := svc.Restart()
				presenter.Notice("conversation restarted, new session " + state.SessionID)
			default:
				if err := svc.Submit(line); err != nil {
					switch {
					case errors.Is(err, conversation.ErrTurnPending):
						presenter.Notice("still waiting for the previous answer")
					case errors.Is(err, channel.ErrNotReady):
						presenter.Notice("not connected yet, please resend in a moment")
					default:
						presenter.Notice(err.Error())
					}
				}
			}
		}
	}
}
