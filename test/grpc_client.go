package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	grpcclient "github.com/EternisAI/silo-config/internal/grpc/client"
	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/settings"
)

var (
	address    = flag.String("address", "localhost:9090", "gRPC server address")
	clientName = flag.String("client", "grpc-smoke", "Client name to register")
	secret     = flag.String("secret", "smoke-secret", "Client secret")
	beats      = flag.Int("heartbeats", 3, "Number of heartbeats to send")
	delay      = flag.Duration("delay", 2*time.Second, "Delay between heartbeats")
)

func main() {
	flag.Parse()

	log.Printf("Connecting to gRPC server at %s", *address)

	tr, err := grpcclient.NewTransport(*address, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	b := settings.NewSchemaBuilder()
	b.String("greeting", "hello")
	b.Int("workers", 4).Range(1, 64)
	schema, err := b.Build()
	if err != nil {
		log.Fatalf("Invalid schema: %v", err)
	}

	reg, err := tr.Register(ctx, &configapi.RegisterRequest{
		ClientName: *clientName,
		Secret:     *secret,
		Schema:     schema,
	})
	if err != nil {
		log.Fatalf("Register failed: %v", err)
	}
	log.Printf("Registered status=%s outcome=%s schema_version=%d", reg.Status, reg.Outcome, reg.SchemaVersion)

	sessionID := uuid.NewString()
	var seen time.Time
	start := time.Now()
	for i := 0; i < *beats; i++ {
		if i > 0 {
			time.Sleep(*delay)
		}
		hb, err := tr.Heartbeat(ctx, &configapi.HeartbeatRequest{
			ClientName:      *clientName,
			Secret:          *secret,
			SessionID:       sessionID,
			UptimeMs:        configapi.Millis(time.Since(start)),
			LastLocalUpdate: seen,
		})
		if err != nil {
			log.Printf("Heartbeat failed: %v", err)
			continue
		}
		log.Printf("Heartbeat poll_interval_ms=%d update_available=%t", hb.PollIntervalMs, hb.UpdateAvailable)

		if hb.UpdateAvailable {
			vals, err := tr.Values(ctx, &configapi.ValuesRequest{ClientName: *clientName, Secret: *secret})
			if err != nil {
				log.Printf("Values failed: %v", err)
				continue
			}
			seen = vals.ChangedAt
			for name, v := range vals.Values {
				log.Printf("  %s = %s", name, v.String())
			}
		}
	}

	log.Println("Test client finished")
}
