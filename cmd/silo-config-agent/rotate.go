package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/EternisAI/silo-config/internal/api/http/dto"
	"github.com/EternisAI/silo-config/internal/secrets"
)

// runRotateSecret asks the server to replace a client's secret. The old
// secret keeps working for --grace so running processes can pick up the new
// one.
func runRotateSecret(args []string) error {
	fs := flag.NewFlagSet("rotate-secret", flag.ExitOnError)
	server := fs.String("server", "", "Server URL (e.g., http://server:8080)")
	apiKey := fs.String("api-key", os.Getenv("SILO_CONFIG_ADMIN_API_KEY"), "Admin API key")
	client := fs.String("client", "", "Client name")
	instance := fs.String("instance", "", "Instance name (empty for the base registration)")
	newSecret := fs.String("new-secret", "", "New secret (generated when empty)")
	grace := fs.Duration("grace", 10*time.Minute, "How long the old secret stays valid")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *server == "" {
		return fmt.Errorf("--server is required")
	}
	if *client == "" {
		return fmt.Errorf("--client is required")
	}
	if *apiKey == "" {
		return fmt.Errorf("--api-key or SILO_CONFIG_ADMIN_API_KEY is required")
	}
	if *grace <= 0 {
		return fmt.Errorf("--grace must be positive")
	}

	secret := *newSecret
	generated := secret == ""
	if generated {
		var err error
		if secret, err = secrets.Generate(); err != nil {
			return err
		}
	}

	reqBody, err := json.Marshal(dto.RotateSecretRequest{
		ClientName:      *client,
		Instance:        *instance,
		NewSecret:       secret,
		OldSecretExpiry: time.Now().Add(*grace).UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(*server, "/") + "/api/v1/admin/clients/rotate-secret"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", *apiKey)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rotation failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rotated dto.RotateSecretResponse
	if err := json.Unmarshal(body, &rotated); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Println("Secret rotated.")
	fmt.Printf("  Client:          %s\n", *client)
	if *instance != "" {
		fmt.Printf("  Instance:        %s\n", *instance)
	}
	fmt.Printf("  Old secret until: %s\n", rotated.PreviousSecretExpiry.Format(time.RFC3339))
	if len(rotated.Instances) > 0 {
		fmt.Printf("  Also rotated:    %s\n", strings.Join(rotated.Instances, ", "))
	}
	if generated {
		fmt.Println()
		fmt.Println("New secret (store it now, it is not shown again):")
		fmt.Println(secret)
	}
	return nil
}
