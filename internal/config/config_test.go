package config

import (
	"strings"
	"testing"
)

const sampleYAML = `
http:
  port: "9090"
google:
  key_file: /etc/gmailhook/key.json
  pubsub_topic: projects/demo/topics/gmail-push
gmail:
  label_ids: [INBOX]
  filter_action: include
storage:
  dir: /var/lib/gmailhook
  root_folder: mailboxes
webhook:
  url: https://hooks.example.com/global
  secret: global-secret
mailboxes:
  - email: ops@example.com
  - id: sales
    email: sales@example.com
    label_ids: [Label_7]
    webhook_url: https://hooks.example.com/sales
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != "9090" {
		t.Fatalf("port %q", cfg.HTTP.Port)
	}
	if cfg.Webhook.URL != "https://hooks.example.com/global" {
		t.Fatalf("webhook url %q", cfg.Webhook.URL)
	}

	boxes, err := cfg.BuildMailboxes()
	if err != nil {
		t.Fatalf("build mailboxes: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("got %d mailboxes", len(boxes))
	}
	if boxes[0].ID != "ops_example_com" {
		t.Fatalf("derived id %q", boxes[0].ID)
	}
	if len(boxes[0].LabelIDs) != 1 || boxes[0].LabelIDs[0] != "INBOX" {
		t.Fatalf("global label default not applied: %v", boxes[0].LabelIDs)
	}
	if boxes[1].ID != "sales" || boxes[1].LabelIDs[0] != "Label_7" {
		t.Fatalf("explicit mailbox fields lost: %+v", boxes[1])
	}
	if boxes[1].WebhookURL != "https://hooks.example.com/sales" {
		t.Fatalf("per-mailbox webhook lost: %+v", boxes[1])
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
google:
  key_file: key.json
  subject: solo@example.com
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != "8080" {
		t.Fatalf("default port %q", cfg.HTTP.Port)
	}
	if cfg.Storage.Dir != "data" {
		t.Fatalf("default storage dir %q", cfg.Storage.Dir)
	}

	boxes, err := cfg.BuildMailboxes()
	if err != nil {
		t.Fatalf("build mailboxes: %v", err)
	}
	if len(boxes) != 1 || boxes[0].ID != "default" || boxes[0].Email != "solo@example.com" {
		t.Fatalf("synthesized default mailbox wrong: %+v", boxes)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing-key-file", yaml: `
google:
  subject: a@example.com
`},
		{name: "no-mailbox-no-subject", yaml: `
google:
  key_file: key.json
`},
		{name: "mailbox-without-email", yaml: `
google:
  key_file: key.json
mailboxes:
  - id: nameless
`},
		{name: "not-yaml", yaml: `{{`},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(strings.TrimSpace(tc.yaml))); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
