package strategyconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads YAML file and returns Config with raw bytes
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return cfg, data, nil
}

// Parse decodes and validates YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path, or returns Default(symbol) when path is empty
func LoadOrDefault(path, symbol string) (*Config, []byte, error) {
	if path == "" {
		cfg := Default(symbol)
		data, err := yaml.Marshal(cfg)
		return cfg, data, err
	}
	return Load(path)
}

// Hash generates SHA256 hash from Config (canonical JSON)
// 주의: map 대신 struct 사용으로 해시 재현성 보장
func Hash(cfg *Config) (string, error) {
	// Struct → JSON (결정적 순서)
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// NewSnapshot creates a snapshot for audit
func NewSnapshot(cfg *Config, yamlData []byte) (*Snapshot, error) {
	hash, err := Hash(cfg)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ConfigHash: hash,
		ConfigYAML: string(yamlData),
		StrategyID: cfg.Meta.StrategyID,
		Version:    cfg.Meta.Version,
		Warnings:   Warn(cfg),
		CreatedAt:  time.Now(),
	}, nil
}
