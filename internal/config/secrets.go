package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Oracle.APIKey)
	redact(&out.Loan.APIKey)
	redact(&out.Loan.APISecret)
	redact(&out.Server.AuthToken)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Venues is a slice; copy it before redacting so the original keeps its
	// credentials.
	if cfg.Venues != nil {
		out.Venues = make([]VenueConfig, len(cfg.Venues))
		copy(out.Venues, cfg.Venues)
		for i := range out.Venues {
			redact(&out.Venues[i].APIKey)
			redact(&out.Venues[i].APISecret)
			if cfg.Venues[i].SimPrices != nil {
				prices := make(map[string]float64, len(cfg.Venues[i].SimPrices))
				for k, v := range cfg.Venues[i].SimPrices {
					prices[k] = v
				}
				out.Venues[i].SimPrices = prices
			}
		}
	}

	out.Scanner.Assets = cloneStrings(cfg.Scanner.Assets)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
