// Command npcchat is a terminal client for the npcforge realtime chat
// endpoint. Each line typed is sent as a chat message; agent replies are
// printed as they arrive.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/MrWong99/npcforge/internal/chat"
	"github.com/MrWong99/npcforge/internal/config"
)

var (
	agentColor  = color.New(color.FgCyan)
	noticeColor = color.New(color.FgYellow)
	stateColor  = color.New(color.Faint)
	promptColor = color.New(color.FgGreen, color.Bold)
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	url := flag.String("url", "", "chat WebSocket URL (overrides chat.url)")
	debug := flag.Bool("debug", false, "log dropped frames and reconnect attempts")
	noColor := flag.Bool("no-color", false, "disable coloured output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "npcchat: %v\n", err)
		return 1
	}
	if *url != "" {
		cfg.Chat.URL = *url
	}

	lvl := slog.LevelWarn
	if *debug {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := chat.New(chat.Config{
		URL:              cfg.Chat.URL,
		HandshakeTimeout: cfg.Chat.HandshakeTimeout,
		ReadTimeout:      cfg.Chat.ReadTimeout,
		ReadLimit:        cfg.Chat.ReadLimit,
		Greeting:         cfg.Chat.Greeting,
		AutoReconnect:    true,
		MaxRetries:       cfg.Chat.MaxRetries,
		Backoff:          cfg.Chat.Backoff,
		MaxBackoff:       cfg.Chat.MaxBackoff,
		OnMessage:        printMessage,
		OnStateChange: func(s chat.State) {
			stateColor.Fprintf(os.Stderr, "[%s]\n", s)
		},
	})
	defer ch.Teardown()

	if err := ch.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "npcchat: %v\n", err)
		return 1
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		promptColor.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return 0
			case "/history":
				for _, m := range ch.Messages() {
					fmt.Printf("%s %-5s %s\n", m.At.Format("15:04:05"), m.Role, m.Content)
				}
				continue
			}
			if err := ch.Send(ctx, line); err != nil && !errors.Is(err, chat.ErrConnectionUnavailable) {
				slog.Debug("send failed", "error", err)
			}
		}
	}
}

// printMessage renders agent replies and local notices. The user's own
// messages are already on screen.
func printMessage(m chat.Message) {
	switch {
	case m.Local:
		noticeColor.Println(m.Content)
	case m.Role == chat.RoleAgent:
		agentColor.Println(m.Content)
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}
