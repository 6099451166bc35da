package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/wonny/orbit/pkg/config"
)

func testConfig(url string) config.DatabaseConfig {
	return config.DatabaseConfig{
		URL:             url,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

func TestNew(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := New(context.Background(), testConfig(url))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := db.HealthCheck(ctx)
	if !h.Healthy {
		t.Fatalf("Expected database to be healthy, got %q", h.Error)
	}
	if h.MaxConns != 4 {
		t.Errorf("MaxConns = %d, want 4", h.MaxConns)
	}

	// Double close should not panic
	db.Close()
	db.Close()
}

func TestNewWithInvalidURL(t *testing.T) {
	_, err := New(context.Background(), testConfig("invalid://url"))
	if err == nil {
		t.Error("Expected error with invalid database URL, got nil")
	}
}
