// Command voice-chat is a push-to-talk terminal client for the voice gateway.
//
// Usage:
//
//	go run ./cmd/voice-chat
//
// Environment variables:
//
//	VOICE_GATEWAY_URL - gateway base URL (default http://localhost:8080)
//	VOICE_API_KEY     - bearer token, when the gateway requires one
//
// Controls:
//
//	<enter>    start recording, then <enter> again to send
//	/t <text>  send a typed message
//	/s         stop playback
//	/new       start a new conversation
//	q          quit
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vango-go/vai-voice/pkg/client"
	"github.com/vango-go/vai-voice/pkg/client/player"
)

const (
	speakerSampleRate = 24000
	speakerChannels   = 2
)

type chat struct {
	client   *client.Client
	player   *player.Player
	fallback client.Speaker
	out      io.Writer
	logger   *slog.Logger

	mu         sync.Mutex
	stopSpeech context.CancelFunc
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr))
}

func run(stdin io.Reader, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	baseURL := strings.TrimSpace(os.Getenv("VOICE_GATEWAY_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	rec, err := newRecorder()
	if err != nil {
		fmt.Fprintf(stderr, "voice-chat: %v\n", err)
		return 1
	}
	defer rec.Close()

	c := &chat{
		client: client.New(baseURL, client.WithAPIKey(os.Getenv("VOICE_API_KEY")), client.WithLogger(logger)),
		player: player.New(player.NewOtoOutput(speakerSampleRate, speakerChannels), player.WithLogger(logger)),
		out:    stdout,
		logger: logger,
	}
	if fb, err := client.DefaultFallback(); err == nil {
		c.fallback = fb
	} else {
		logger.Warn("no local speech fallback", "error", err)
	}
	defer c.player.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(stdout, "Connected to %s. Press <enter> to talk, /t <text> to type, q to quit.\n", baseURL)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "q":
				return 0
			case line == "/s":
				c.interrupt()
			case line == "/new":
				c.interrupt()
				c.client.Reset()
				fmt.Fprintln(stdout, "Started a new conversation.")
			case strings.HasPrefix(line, "/t "):
				go c.submit(ctx, client.Input{Text: strings.TrimPrefix(line, "/t ")})
			case line == "":
				if !rec.Recording() {
					c.interrupt()
					if err := rec.Start(); err != nil {
						fmt.Fprintf(stdout, "mic: %v\n", err)
						continue
					}
					fmt.Fprintln(stdout, "Recording... press <enter> to send.")
					continue
				}
				clip, err := rec.Stop()
				if err != nil {
					fmt.Fprintf(stdout, "mic: %v\n", err)
					continue
				}
				go c.submit(ctx, client.Input{
					Audio:     bytes.NewReader(clip),
					AudioName: "clip.wav",
					AudioType: "audio/wav",
				})
			default:
				fmt.Fprintln(stdout, "unknown command")
			}
		}
	}
}

// interrupt silences both the player and any fallback speech.
func (c *chat) interrupt() {
	c.player.Stop()
	c.mu.Lock()
	stop := c.stopSpeech
	c.stopSpeech = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *chat) submit(ctx context.Context, in client.Input) {
	reply, err := c.client.Submit(ctx, in)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		return
	}
	if !c.client.IsLatest(reply.Seq) {
		if reply.Audio != nil {
			_ = reply.Audio.Close()
		}
		return
	}

	fmt.Fprintf(c.out, "you:   %s\nagent: %s\n", reply.Transcript, reply.Text)
	fmt.Fprintf(c.out, "cost:  $%.6f this turn, $%.6f total\n", reply.Cost.TotalCost, reply.Total.TotalCost)

	if reply.TTSFailed {
		c.speakFallback(ctx, reply.Text)
		return
	}
	seq := reply.Seq
	err = c.player.Play(reply.Audio, func() {
		c.logger.Debug("reply finished", "seq", seq)
	})
	if err != nil && !errors.Is(err, player.ErrInterrupted) {
		fmt.Fprintf(c.out, "playback: %v\n", err)
		c.speakFallback(ctx, reply.Text)
	}
}

func (c *chat) speakFallback(ctx context.Context, text string) {
	if c.fallback == nil {
		return
	}
	c.interrupt()
	speechCtx, stop := context.WithCancel(ctx)
	c.mu.Lock()
	c.stopSpeech = stop
	c.mu.Unlock()
	defer stop()

	if err := c.fallback.Say(speechCtx, text); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("fallback speech failed", "error", err)
	}
}
