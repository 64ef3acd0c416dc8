package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/chat/remote"
	"github.com/vovakirdan/onetimechat/internal/dbclient"
	"github.com/vovakirdan/onetimechat/internal/kv"
	applog "github.com/vovakirdan/onetimechat/internal/log"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chat_cli: %v", err)
		os.Exit(1)
	}
}

func run() error {
	url := flag.String("url", "http://localhost:8081", "backend base URL")
	key := flag.String("key", os.Getenv("ONETIMECHAT_API_KEY"), "public API key")
	chatID := flag.String("chat", "", "chat to join; a new one is created when empty")
	name := flag.String("name", "cli-user", "display name")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := applog.New(*level)
	client, err := dbclient.New(*url, *key, dbclient.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	st := remote.NewStore(client, kv.NewMemory(), *url, logger)

	if *chatID == "" {
		id, err := st.CreateChat(ctx)
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		*chatID = id
		fmt.Printf("Created chat %s\n", id)
	}
	if err := st.JoinChat(ctx, *chatID, *name); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	defer st.LeaveChat(context.WithoutCancel(ctx))

	fmt.Printf("Joined %s as %s\n", st.ChatURL(*chatID), *name)
	fmt.Println("Type messages and press Enter to send. /who lists people, Ctrl+C exits.")

	changes, cancel := st.Subscribe()
	defer cancel()
	go printLoop(ctx, st, changes)

	return inputLoop(ctx, st)
}

// printLoop prints messages as they arrive.
func printLoop(ctx context.Context, st chat.Store, changes <-chan struct{}) {
	seen := make(map[string]bool)
	show := func() {
		for _, m := range st.Messages() {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			stamp := m.Timestamp.Local().Format("15:04")
			if m.Type == chat.MessageTypeSystem {
				fmt.Printf("%s * %s\n", stamp, m.Content)
				continue
			}
			fmt.Printf("%s %s: %s\n", stamp, m.Author, m.Content)
		}
	}
	show()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			show()
		}
	}
}

func inputLoop(ctx context.Context, st chat.Store) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch text {
			case "":
				continue
			case "/who":
				for _, u := range st.Users() {
					fmt.Printf("  %s\n", u.Name)
				}
				continue
			}
			if !st.HasSession() {
				return errors.New("session lost")
			}
			st.SendMessage(ctx, text)
		}
	}
}
