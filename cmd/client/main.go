package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"collab-relay/internal/client"
)

// Line-oriented terminal client: every line typed replaces the document
// buffer, remote updates are printed as they arrive.
func main() {
	serverURL := os.Getenv("RELAY_URL")
	if serverURL == "" {
		serverURL = "ws://localhost:8080"
	}
	docID := os.Getenv("DOC_ID")
	if docID == "" {
		docID = "demo"
	}

	sync, err := client.New(client.Options{
		ServerURL: serverURL,
		DocID:     docID,
		OnRemote: func(text string, version int64) {
			log.Printf("[v%d] %s", version, text)
		},
	})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := sync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("⚠️  Sync loop ended: %v", err)
		}
	}()

	log.Printf("Editing doc %q on %s - type a line to replace the buffer", docID, serverURL)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			sync.SetText(scanner.Text())
		}
		cancel()
	}()

	<-ctx.Done()
	log.Println("Bye")
}
