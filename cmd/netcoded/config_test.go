package main

import (
	"testing"
	"time"
)

func TestUnmarshalEnvDefaults(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{"NETCODE_PRIVATE_KEY=" + hex64}, false)
	if err != nil {
		t.Fatalf("UnmarshalEnv: %v", err)
	}
	if c.ListenAddr.Port() != 40000 {
		t.Errorf("ListenAddr = %v, want port 40000", c.ListenAddr)
	}
	if c.MaxClients != 64 {
		t.Errorf("MaxClients = %d, want 64", c.MaxClients)
	}
	if c.ProtocolID != 1 {
		t.Errorf("ProtocolID = %d, want 1", c.ProtocolID)
	}
	if c.EventLogFlushInterval != 5*time.Second {
		t.Errorf("EventLogFlushInterval = %v, want 5s", c.EventLogFlushInterval)
	}
	if !c.LogStdout {
		t.Error("LogStdout should default to true")
	}
}

func TestUnmarshalEnvOverrides(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{
		"NETCODE_PRIVATE_KEY=" + hex64,
		"NETCODE_LISTEN_ADDR=127.0.0.1:9000",
		"NETCODE_MAX_CLIENTS=8",
		"NETCODE_PROTOCOL_ID=1234567890",
		"NETCODE_LOG_LEVEL=trace",
	}, false)
	if err != nil {
		t.Fatalf("UnmarshalEnv: %v", err)
	}
	if c.ListenAddr.String() != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %v", c.ListenAddr)
	}
	if c.MaxClients != 8 {
		t.Errorf("MaxClients = %d, want 8", c.MaxClients)
	}
	if c.ProtocolID != 1234567890 {
		t.Errorf("ProtocolID = %d, want 1234567890", c.ProtocolID)
	}
}

func TestUnmarshalEnvMissingPrivateKey(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil, false); err == nil {
		t.Fatal("missing private key should fail")
	}
}

func TestPrivateKeyDecode(t *testing.T) {
	c := Config{PrivateKeyHex: hex64}
	key, err := c.PrivateKey()
	if err != nil {
		t.Fatalf("PrivateKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key len = %d, want 32", len(key))
	}

	c.PrivateKeyHex = "not hex"
	if _, err := c.PrivateKey(); err == nil {
		t.Fatal("invalid hex should fail")
	}

	c.PrivateKeyHex = "aabb"
	if _, err := c.PrivateKey(); err == nil {
		t.Fatal("wrong length should fail")
	}
}

const hex64 = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
