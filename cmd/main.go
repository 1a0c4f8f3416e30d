package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/voicestream/internal/config"
	"github.com/saker-ai/voicestream/internal/protocol"
	"github.com/saker-ai/voicestream/internal/session"
	"github.com/saker-ai/voicestream/internal/session/fsm"
	"github.com/saker-ai/voicestream/pkg/runtime"
)

var statusLabels = map[fsm.State]string{
	fsm.StateConnecting:   "Connecting...",
	fsm.StateConnected:    "Connected.",
	fsm.StateDisconnected: "Disconnected.",
	fsm.StateReconnecting: "Disconnected. Reconnecting...",
}

func main() {
	flags := pflag.NewFlagSet("voicestream", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to conf.yaml (default: search from the working directory)")
	printConfig := flags.Bool("print-config", false, "print the effective configuration and exit")
	serverURL := flags.String("server-url", "", "override server_url")
	voice := flags.Int("voice", -1, "override voice")
	_ = flags.Parse(os.Args[1:])

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to load config", zap.Error(err))
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *voice >= 0 {
		cfg.Voice = *voice
	}

	if *printConfig {
		out, err := appconfig.Encode(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	client, err := runtime.NewWithConfig(cfg, runtime.WithStatusListener(func(s fsm.State) {
		fmt.Println(statusLabels[s])
	}))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := client.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start client", zap.Error(err))
		os.Exit(1)
	}
	if addr := client.StatusAddr(); addr != "" {
		fmt.Printf("Status page: http://%s/\n", addr)
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	consumeInput(ctx, client.Done(), lines, func(line string) {
		speak(ctx, client, line)
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Shutdown(shutdownCtx); err != nil {
		logger.Error("client shutdown failed", zap.Error(err))
	}
}

// consumeInput hands each line to handle until ctx is cancelled or done is
// closed. End of input keeps the client running so replies still play.
func consumeInput(ctx context.Context, done <-chan struct{}, lines <-chan string, handle func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			handle(line)
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func speak(ctx context.Context, client *runtime.Client, line string) {
	text := strings.TrimSpace(line)
	if text == "" {
		return
	}
	err := client.Speak(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotConnected):
		fmt.Println("Not connected; message not sent.")
	case errors.Is(err, protocol.ErrInvalidRequest):
		fmt.Println("Nothing to say.")
	default:
		fmt.Fprintln(os.Stderr, err)
	}
}
