package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vovakirdan/onetimechat/internal/dbclient"
	applog "github.com/vovakirdan/onetimechat/internal/log"
)

func main() {
	if err := run(); err != nil {
		log.Printf("feed_tail: %v", err)
		os.Exit(1)
	}
}

func run() error {
	url := flag.String("url", "http://localhost:8081", "backend base URL")
	key := flag.String("key", os.Getenv("ONETIMECHAT_API_KEY"), "API key")
	chatID := flag.String("chat", "", "only show changes of this chat")
	table := flag.String("table", "messages", "table to follow (chats, participants, messages)")
	timeout := flag.Duration("timeout", 0, "stop after this long; zero runs until interrupted")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	client, err := dbclient.New(*url, *key, dbclient.WithLogger(applog.New("info")))
	if err != nil {
		return err
	}
	defer client.Close()

	topic := "tail_" + *table
	if *chatID != "" {
		topic += "_" + *chatID
	}
	filter := dbclient.Filter{Table: *table, Event: dbclient.EventAll, ChatID: *chatID}
	_, err = client.Subscribe(ctx, topic, filter, func(ev dbclient.ChangeEvent) {
		fmt.Printf("%s %-12s %-6s chat=%s %s\n",
			ev.CommitTimestamp.Format(time.RFC3339), ev.Table, ev.Type, ev.ChatID, ev.Record)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	fmt.Printf("Following %s on %s\n", *table, client.URL())
	<-ctx.Done()
	return nil
}
