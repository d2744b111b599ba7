package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"freda-client/internal/client"
	"freda-client/internal/config"
	"freda-client/internal/grouping"
	"freda-client/internal/logger"
	"freda-client/internal/metrics"
	"freda-client/internal/models"
	"freda-client/internal/transport"
	"freda-client/internal/utils"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to config file")
	conv := flag.String("conversation", "", "conversation id to open")
	metricsAddr := flag.String("metrics", "", "listen address for /metrics, empty disables")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if *conv == "" {
		log.Fatal("-conversation is required")
	}

	lg, err := logger.New(logger.Config{Development: cfg.Log.Development, Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer lg.Sync()

	mts := metrics.New()
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", mts.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				lg.Warnw("metrics listener", "err", err)
			}
		}()
	}

	rest := transport.NewRESTClient(transport.RESTConfig{
		BaseURL:            cfg.API.BaseURL,
		Token:              cfg.API.Token,
		Timeout:            cfg.APITimeout,
		RetryMaxElapsed:    cfg.RetryMaxElapsed,
		BreakerMaxFailures: cfg.API.BreakerMaxFailures,
		BreakerReset:       cfg.BreakerReset,
	}, lg)

	dial := func(conversationID string) (client.Stream, error) {
		return transport.Dial(transport.SocketConfig{
			URL:            cfg.Stream.URL,
			Token:          cfg.API.Token,
			PingInterval:   cfg.PingInterval,
			WriteDeadline:  cfg.WriteDeadline,
			MaxMessageSize: cfg.Stream.MaxMessageSizeBytes,
			Reconnect:      cfg.Stream.Reconnect,
			ReconnectMax:   cfg.ReconnectMax,
		}, lg, mts)
	}

	me := models.User{ID: cfg.User.ID, Name: cfg.User.Name}
	if me.ID == "" {
		if sub, err := utils.TokenSubject(cfg.API.Token); err == nil {
			me.ID = sub
		}
	}

	c := client.New(rest, dial, me, lg, mts)
	h, err := c.Open(context.Background(), *conv)
	if err != nil {
		lg.Fatalw("open conversation", "err", err)
	}
	defer h.Close()

	h.OnChange(func(msgs []models.Message, typing []string) {
		render(h, msgs, typing)
	})

	deleter := client.NewDeleter(rest, lg)

	fmt.Printf("joined %s as %s — /delete <id>, /react <id> <emoji>, /quit\n", *conv, me.ID)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/delete "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
			if err := deleter.RequestDelete(context.Background(), h, id); err != nil {
				fmt.Println("delete failed:", err)
			}
		case strings.HasPrefix(line, "/react "):
			parts := strings.Fields(line)
			if len(parts) != 3 {
				fmt.Println("usage: /react <id> <emoji>")
				continue
			}
			if err := h.React(context.Background(), parts[1], parts[2]); err != nil {
				fmt.Println("react failed:", err)
			}
		default:
			_ = h.SetDraft(line)
			if err := h.SendMessage(models.SendMessagePayload{Text: line}); err != nil {
				fmt.Println("send failed:", err)
			}
			_ = h.SetDraft("")
		}
	}
}

// render reprints the grouped transcript from the snapshot handed to the
// change callback.
func render(h *client.Handle, msgs []models.Message, typing []string) {
	fmt.Print("\033[H\033[2J")
	for _, item := range grouping.Group(msgs, utils.Now()) {
		if item.Kind == grouping.DateMarker {
			fmt.Printf("---- %s ----\n", item.Label)
			continue
		}
		m := item.Message
		line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format("15:04"), m.Sender.Name, m.Text)
		if m.Media != nil {
			line += fmt.Sprintf(" (%s %s)", m.Media.Kind, m.Media.URL)
		}
		for _, r := range m.Reactions {
			line += " " + r.Emoji
		}
		fmt.Println(line)
	}
	if len(typing) > 0 {
		fmt.Printf("%s typing...\n", strings.Join(typing, ", "))
	}
	if err := h.HistoryErr(); err != nil {
		fmt.Println("! history unavailable:", err)
	}
}
