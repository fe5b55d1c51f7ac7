package sms

import "log"

type Config struct {
	Sender string
}

// Send is a stub: delivery is handled by an external gateway in
// production. The core never depends on delivery confirmation.
func Send(cfg Config, phone, text string) error {
	log.Printf("sms sender=%s to=%s text=%q", cfg.Sender, phone, text)
	return nil
}
