package config

import "time"

type Config struct {
	TokenSecret string
	TokenTTL    time.Duration
}
