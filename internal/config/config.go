// Package config loads the YAML configuration file and builds the immutable
// mailbox set. Invalid configuration fails at startup, not per request.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/relaykit/gmailhook/internal/mailbox"
	"github.com/relaykit/gmailhook/internal/storage"
)

type Config struct {
	HTTP      HTTP          `yaml:"http"`
	Google    Google        `yaml:"google"`
	Gmail     Gmail         `yaml:"gmail"`
	Storage   Storage       `yaml:"storage"`
	Webhook   Webhook       `yaml:"webhook"`
	Admin     Admin         `yaml:"admin"`
	NATS      NATS          `yaml:"nats"`
	Mailboxes []MailboxSpec `yaml:"mailboxes"`
}

type HTTP struct {
	Port string `yaml:"port"`
}

type Google struct {
	KeyFile string `yaml:"key_file"`
	// Subject is the impersonated address used to synthesize the single
	// default mailbox when no mailboxes are configured.
	Subject            string `yaml:"subject"`
	PubSubTopic        string `yaml:"pubsub_topic"`
	PushAudience       string `yaml:"push_audience"`
	PushServiceAccount string `yaml:"push_service_account"`
}

type Gmail struct {
	Scopes       []string `yaml:"scopes"`
	LabelIDs     []string `yaml:"label_ids"`
	FilterAction string   `yaml:"filter_action"`
}

type Storage struct {
	Dir          string `yaml:"dir"`
	RootFolder   string `yaml:"root_folder"`
	DebugFolder  string `yaml:"debug_folder"`
	EmailsFolder string `yaml:"emails_folder"`
	HistoryFile  string `yaml:"history_file"`
}

type Webhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type Admin struct {
	JWKSURL string `yaml:"jwks_url"`
}

type NATS struct {
	URL     string `yaml:"url"`
	EventDB string `yaml:"event_db"`
}

type MailboxSpec struct {
	ID            string   `yaml:"id"`
	Email         string   `yaml:"email"`
	Subject       string   `yaml:"subject"`
	LabelIDs      []string `yaml:"label_ids"`
	FilterAction  string   `yaml:"filter_action"`
	WebhookURL    string   `yaml:"webhook_url"`
	WebhookSecret string   `yaml:"webhook_secret"`
	Folder        string   `yaml:"folder"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data"
	}
	if cfg.Google.KeyFile == "" {
		return nil, fmt.Errorf("google.key_file is required")
	}
	if len(cfg.Mailboxes) == 0 && cfg.Google.Subject == "" {
		return nil, fmt.Errorf("no mailboxes configured and google.subject is empty")
	}
	if _, err := cfg.BuildMailboxes(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BuildMailboxes normalizes the configured mailboxes. When none are
// configured the global auth subject becomes the single default mailbox.
func (c *Config) BuildMailboxes() ([]mailbox.Mailbox, error) {
	defs := mailbox.Defaults{
		LabelIDs:     c.Gmail.LabelIDs,
		FilterAction: c.Gmail.FilterAction,
	}

	specs := c.Mailboxes
	if len(specs) == 0 {
		specs = []MailboxSpec{{ID: "default", Email: c.Google.Subject}}
	}

	boxes := make([]mailbox.Mailbox, 0, len(specs))
	for i, spec := range specs {
		mb, err := mailbox.Normalize(mailbox.Raw{
			ID:            spec.ID,
			Email:         spec.Email,
			Subject:       spec.Subject,
			LabelIDs:      spec.LabelIDs,
			FilterAction:  spec.FilterAction,
			WebhookURL:    spec.WebhookURL,
			WebhookSecret: spec.WebhookSecret,
			Folder:        spec.Folder,
		}, i, defs)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, mb)
	}
	return boxes, nil
}

// Layout returns the blob path layout for this configuration.
func (c *Config) Layout() storage.Layout {
	return storage.Layout{
		Root:         c.Storage.RootFolder,
		DebugFolder:  c.Storage.DebugFolder,
		EmailsFolder: c.Storage.EmailsFolder,
		HistoryFile:  c.Storage.HistoryFile,
	}
}
