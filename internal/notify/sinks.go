package notify

import (
	"github.com/droplog/droplog/internal/config"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/logger"
)

// SinksFromConfig builds every sink cfg enables. A sink that fails to start is
// logged and left out. The returned func releases sink connections.
func SinksFromConfig(cfg *config.Config, creds Credentials, log logger.Logger) ([]Sink, func()) {
	if log == nil {
		log = logger.NewNop()
	}
	var (
		sinks   []Sink
		closers []func()
	)

	sinks = append(sinks, NewWebhookSink(creds, drops.Webhook{
		URL:    cfg.DiscordWebhookURL,
		UserID: cfg.DiscordUserID,
	}, cfg.HTTPTimeout()))

	if cfg.TelegramToken != "" {
		tg, err := NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, cfg.HTTPTimeout())
		if err != nil {
			log.Warn("notify", "telegram sink disabled", map[string]any{"error": err})
		} else {
			sinks = append(sinks, tg)
		}
	}

	if cfg.NATSURL != "" {
		ns, err := NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Warn("notify", "nats sink disabled", map[string]any{"error": err})
		} else {
			sinks = append(sinks, ns)
			closers = append(closers, ns.Close)
		}
	}

	if cfg.DesktopNotify {
		sinks = append(sinks, NewDesktopSink())
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
