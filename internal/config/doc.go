// Package config handles configuration loading for the eagence chat client.
//
// # Overview
//
// Configuration is loaded from YAML files (or TOML files, by extension) with
// environment variable expansion. Missing optional values get defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from EAGENCE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/eagence/chat.yaml
//  3. ~/.config/eagence/chat.yaml
//
// # Environment Variable Expansion
//
//	broker:
//	  password: "${EAGENCE_BROKER_PASSWORD}"
//
// # Configuration Sections
//
//	broker:
//	  url: "wss://broker.example.ci:8084/mqtt"
//	  outbound_topic: "outbound-messages"
//	  reconnect_interval: "1s"
//	  connect_timeout: "10s"
//	  qos: 1
//
//	backend:
//	  base_url: "https://portail.example.ci/api"
//	  token_path: "/auth/chat-token"
//	  subscription_path: "/chat/subscriptions"
//	  webhook_url: "https://bot.example.ci/webhook/inbound"
//	  callback_url: "https://portail.example.ci/api/chat/callback"
//	  request_timeout: "15s"
//
//	auth:
//	  jwt_secret: ""      # verify session tokens when set
//	  token: ""           # pre-issued token, skips the token endpoint
//	  client_id: "CLI-0042"
//
//	chat:
//	  integration_type: "E-Agence"
//	  dedupe_ttl: "10m"
//	  dedupe_size: 10000
//
//	media:
//	  probe_timeout: "2s"
//	  preferred_formats: ["audio/webm;codecs=opus", "audio/ogg;codecs=opus"]
//
//	prefs:
//	  path: "~/.local/share/eagence/prefs.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
