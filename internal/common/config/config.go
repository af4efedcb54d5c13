package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type DB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"password"`
	Name     string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// DSN renders a pgx-compatible connection string.
func (d DB) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Pass, d.Host, d.Port, d.Name, d.SSLMode)
}

type MQ struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	User  string `yaml:"user"`
	Pass  string `yaml:"password"`
	VHost string `yaml:"vhost"`
}

type Mpesa struct {
	BaseURL        string `yaml:"base_url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	ShortCode      string `yaml:"shortcode"`
	Passkey        string `yaml:"passkey"`
	CallbackURL    string `yaml:"callback_url"`
	TimeoutSec     int    `yaml:"timeout_seconds"`
}

type Payment struct {
	PollIntervalSec int `yaml:"poll_interval_seconds"`
	MaxAttempts     int `yaml:"max_attempts"`
}

func (p Payment) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSec) * time.Second
}

type Cart struct {
	DBPath string `yaml:"db_path"`
}

type App struct {
	LogLevel string  `yaml:"log_level"`
	Database DB      `yaml:"database"`
	Rabbit   MQ      `yaml:"rabbitmq"`
	Mpesa    Mpesa   `yaml:"mpesa"`
	Payment  Payment `yaml:"payment"`
	Cart     Cart    `yaml:"cart"`
}

// Load reads and validates the YAML config at path. Missing optional
// sections fall back to defaults; database and rabbitmq hosts are required.
func Load(path string) (App, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, err
	}
	a := defaults()
	if err := yaml.Unmarshal(b, &a); err != nil {
		return App{}, fmt.Errorf("parse config: %w", err)
	}
	if a.Database.Host == "" || a.Database.User == "" || a.Database.Name == "" {
		return App{}, errors.New("invalid config: database host/user/database required")
	}
	if a.Rabbit.Host == "" || a.Rabbit.User == "" {
		return App{}, errors.New("invalid config: rabbitmq host/user required")
	}
	if a.Payment.PollIntervalSec <= 0 || a.Payment.MaxAttempts <= 0 {
		return App{}, errors.New("invalid config: payment poll interval and max attempts must be positive")
	}
	return a, nil
}

func defaults() App {
	return App{
		LogLevel: "info",
		Database: DB{Port: 5432, SSLMode: "disable", MaxConns: 10},
		Rabbit:   MQ{Port: 5672, VHost: "/"},
		Mpesa: Mpesa{
			BaseURL:    "https://sandbox.safaricom.co.ke",
			TimeoutSec: 30,
		},
		// 5s cadence, 6 attempts: the confirmation window is bounded by a
		// human entering an M-Pesa PIN, roughly half a minute.
		Payment: Payment{PollIntervalSec: 5, MaxAttempts: 6},
		Cart:    Cart{DBPath: "soko-cart.db"},
	}
}
