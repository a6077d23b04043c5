package config

import "slices"

const redacted = "***"

// Redacted returns a copy of c with every secret replaced by "***", for
// logging the active configuration. Slices are copied so the result can be
// modified freely.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Server.APIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Engine.Symbols = slices.Clone(c.Engine.Symbols)
	out.Engine.SymbolUniverse = slices.Clone(c.Engine.SymbolUniverse)
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Kafka.Brokers = slices.Clone(c.Kafka.Brokers)
	out.Notify.Events = slices.Clone(c.Notify.Events)
	out.Feeds = slices.Clone(c.Feeds)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
