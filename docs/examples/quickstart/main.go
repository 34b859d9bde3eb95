// Linkwise Quickstart Example
//
// This is a minimal example of installing the SDK in a host application:
// resolve the deferred deep link on first launch and track a few events.
//
// Usage:
//   export LINKWISE_API_KEY="lw_your_key_here"
//   go run main.go
//
// Point it at the stub backend (cmd/stubserver) for local development.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/linkwise/linkwise"
)

func main() {
	apiKey := os.Getenv("LINKWISE_API_KEY")
	if apiKey == "" {
		log.Fatal("LINKWISE_API_KEY environment variable is required")
	}

	endpoint := os.Getenv("LINKWISE_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}

	client, err := linkwise.New(linkwise.Options{
		APIKey:         apiKey,
		MatchEndpoint:  endpoint,
		IngestEndpoint: endpoint,
		StorageDSN:     "linkwise.db",
		Platform:       "android",
		AppVersion:     "1.0.0",

		// A real integration implements SignalProvider with live device
		// signals and ReferrerSource with the platform install-referrer
		// API. Static values stand in for both here.
		Signals: linkwise.StaticSignals(map[string]string{
			"platform":   "android",
			"model":      "Pixel 9",
			"os_version": "15",
			"timezone":   "Europe/Berlin",
			"locale":     "de-DE",
		}),
		Referrer: linkwise.StaticReferrer(linkwise.ParseReferrer(
			"utm_source=google&utm_medium=cpc&utm_campaign=spring",
			time.Now().Add(-time.Hour), time.Now())),
	})
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Fatalf("start client: %v", err)
	}
	defer client.Close(ctx)

	if client.FirstLaunch() {
		attr, err := client.ResolveDeferredLink(ctx)
		if err != nil {
			log.Fatalf("resolve deferred link: %v", err)
		}
		if attr.Success {
			fmt.Printf("matched via %s (%s): open %s\n", attr.Method, attr.Confidence, attr.DeepLink)
			client.TrackEvent(ctx, linkwise.EventAttribution, map[string]any{
				"method":     string(attr.Method),
				"short_code": attr.ShortCode,
			})
		} else {
			fmt.Println("no deferred link for this install")
		}
	}

	client.TrackEvent(ctx, linkwise.EventOpen, nil)
	client.TrackEvent(ctx, linkwise.EventCustom, map[string]any{"screen": "home"})

	delivered, err := client.Flush(ctx)
	if err != nil {
		log.Printf("flush: %v (events remain queued for the next run)", err)
		return
	}
	fmt.Printf("delivered %d events\n", delivered)
}
