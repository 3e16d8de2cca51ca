package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/api/idtoken"

	"github.com/relaykit/gmailhook/internal/auth"
	"github.com/relaykit/gmailhook/internal/config"
	"github.com/relaykit/gmailhook/internal/cursor"
	"github.com/relaykit/gmailhook/internal/events"
	"github.com/relaykit/gmailhook/internal/gmailapi"
	"github.com/relaykit/gmailhook/internal/mailbox"
	"github.com/relaykit/gmailhook/internal/relay"
	"github.com/relaykit/gmailhook/internal/storage"
	"github.com/relaykit/gmailhook/internal/trigger"
)

const pushTokenIssuer = "accounts.google.com"

type watchRequest struct {
	Email     string `json:"email"`
	MailboxID string `json:"mailboxId"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	blobs, err := storage.NewFS(cfg.Storage.Dir)
	if err != nil {
		log.Error("open blob store", "error", err)
		os.Exit(1)
	}
	layout := cfg.Layout()

	boxes, err := cfg.BuildMailboxes()
	if err != nil {
		log.Error("build mailboxes", "error", err)
		os.Exit(1)
	}
	registry, err := mailbox.NewRegistry(boxes)
	if err != nil {
		log.Error("build mailbox registry", "error", err)
		os.Exit(1)
	}

	keyJSON, err := os.ReadFile(cfg.Google.KeyFile)
	if err != nil {
		log.Error("read service account key", "error", err)
		os.Exit(1)
	}
	sessions := gmailapi.NewSessionCache(gmailapi.ServiceAccountDialer(keyJSON, cfg.Gmail.Scopes))

	orch := &relay.Orchestrator{
		Cursors:  &cursor.Store{Blobs: blobs, Layout: layout},
		History:  &relay.History{Sessions: sessions, Log: log},
		Messages: &relay.Messages{Sessions: sessions, Blobs: blobs, Layout: layout, Log: log},
		Notifier: &relay.Dispatcher{
			HTTP:          &http.Client{Timeout: 15 * time.Second},
			WebhookURL:    cfg.Webhook.URL,
			WebhookSecret: cfg.Webhook.Secret,
			Log:           log,
		},
		Blobs:  blobs,
		Layout: layout,
		Log:    log,
	}

	if cfg.NATS.URL != "" {
		dbPath := cfg.NATS.EventDB
		if dbPath == "" {
			dbPath = filepath.Join(cfg.Storage.Dir, "events.db")
		}
		store, err := events.Open(dbPath)
		if err != nil {
			log.Error("open event store", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		pub, err := events.NewPublisher(cfg.NATS.URL)
		if err != nil {
			log.Error("connect nats", "error", err)
			os.Exit(1)
		}
		if err := pub.EnsureStream(); err != nil {
			log.Error("ensure event stream", "error", err)
			os.Exit(1)
		}

		mirror := events.NewMirror(store, pub, log)
		go mirror.Run(context.Background())
		orch.Mirror = mirror
	}

	r := gin.Default()
	r.HandleMethodNotAllowed = true

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mailboxes": len(registry.List())})
	})

	r.POST("/pubsub/push", func(c *gin.Context) {
		if cfg.Google.PushAudience != "" {
			if err := validatePushToken(c.Request, cfg.Google.PushAudience, cfg.Google.PushServiceAccount); err != nil {
				log.Warn("rejected push request", "error", err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
			return
		}
		n, err := trigger.DecodePush(body)
		if err != nil {
			log.Warn("undecodable push request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		mb, err := registry.Resolve(n.EmailAddress, n.MailboxID)
		if err != nil {
			log.Warn("push for unknown mailbox", "email", n.EmailAddress, "mailboxId", n.MailboxID)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := orch.Sync(c.Request.Context(), mb, n.HistoryID); err != nil {
			log.Error("sync failed", "mailbox", mb.ID, "historyId", n.HistoryID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	watch := r.Group("/watch")
	if cfg.Admin.JWKSURL != "" {
		verifier, err := auth.NewVerifier(cfg.Admin.JWKSURL)
		if err != nil {
			log.Error("init token verifier", "error", err)
			os.Exit(1)
		}
		watch.Use(bearerAuth(verifier, log))
	}

	watch.POST("/start", func(c *gin.Context) {
		if cfg.Google.PubSubTopic == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "google.pubsub_topic is not configured"})
			return
		}
		mb, ok := resolveWatchTarget(c, registry)
		if !ok {
			return
		}
		client, err := sessions.For(c.Request.Context(), mb)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		info, err := client.Watch(c.Request.Context(), cfg.Google.PubSubTopic, mb.LabelIDs, mb.FilterAction)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info("watch started", "mailbox", mb.ID, "historyId", info.HistoryID, "expiration", info.Expiration)
		c.JSON(http.StatusOK, gin.H{
			"mailboxId":  mb.ID,
			"historyId":  info.HistoryID,
			"expiration": info.Expiration,
		})
	})

	watch.POST("/stop", func(c *gin.Context) {
		mb, ok := resolveWatchTarget(c, registry)
		if !ok {
			return
		}
		client, err := sessions.For(c.Request.Context(), mb)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := client.StopWatch(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info("watch stopped", "mailbox", mb.ID)
		c.JSON(http.StatusOK, gin.H{"mailboxId": mb.ID})
	})

	log.Info("listening", "port", cfg.HTTP.Port)
	if err := r.Run(":" + cfg.HTTP.Port); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// resolveWatchTarget binds the request body and resolves the mailbox it names.
// An empty body targets the sole default mailbox when there is one.
func resolveWatchTarget(c *gin.Context, registry *mailbox.Registry) (mailbox.Mailbox, bool) {
	var req watchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return mailbox.Mailbox{}, false
		}
	}
	mb, err := registry.Resolve(req.Email, req.MailboxID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return mailbox.Mailbox{}, false
	}
	return mb, true
}

// validatePushToken checks the OIDC token Pub/Sub attaches to push requests
// against the configured audience and the Google issuer. When a push service
// account is configured the token's email claim must match it.
func validatePushToken(r *http.Request, audience, serviceAccount string) error {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if authHeader == "" || len(parts) != 2 {
		return fmt.Errorf("missing or malformed authorization header")
	}

	v, err := idtoken.NewValidator(r.Context())
	if err != nil {
		return err
	}
	payload, err := v.Validate(r.Context(), parts[1], audience)
	if err != nil {
		return err
	}
	if payload.Issuer != pushTokenIssuer && payload.Issuer != "https://"+pushTokenIssuer {
		return fmt.Errorf("unexpected token issuer %q", payload.Issuer)
	}
	if serviceAccount != "" {
		email, _ := payload.Claims["email"].(string)
		if email != serviceAccount {
			return fmt.Errorf("token email %q does not match push service account", email)
		}
	}
	return nil
}

func bearerAuth(verifier *auth.Verifier, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := verifier.CallerFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		log.Debug("management request", "subject", caller.Subject, "path", c.Request.URL.Path)
		c.Set("caller", caller)
		c.Next()
	}
}
