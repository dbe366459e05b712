package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/etekin/library-backend/pkg/kafka"
	"github.com/etekin/library-backend/pkg/logger"
	"github.com/etekin/library-backend/pkg/postgres"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"LIBRARY_HTTP_HOST" default:"0.0.0.0"`
	Port         string        `yaml:"port" envconfig:"LIBRARY_HTTP_PORT" default:"8000"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"30s"`
	WriteTimeout time.Duration
}

// Lending holds the borrow/fine policy knobs. Defaults match the library's
// standing rules: 5 units/day fine, 5 concurrent books, 100 units of unpaid
// fines, 15-day loans.
type Lending struct {
	DailyRate           float64 `yaml:"dailyRate" envconfig:"FINE_DAILY_RATE" default:"5"`
	MaxOpenBorrows      int     `yaml:"maxOpenBorrows" envconfig:"MAX_OPEN_BORROWS" default:"5"`
	MaxUnpaidFines      float64 `yaml:"maxUnpaidFines" envconfig:"MAX_UNPAID_FINES" default:"100"`
	MaxLoanDays         int     `yaml:"maxLoanDays" envconfig:"MAX_LOAN_DAYS" default:"15"`
	SystemStaffUsername string  `yaml:"systemStaffUsername" envconfig:"SYSTEM_STAFF_USERNAME" default:"system"`
}

type Config struct {
	Server   HTTPServer   `yaml:"server"`
	Database postgres.DB  `yaml:"db"`
	Kafka    kafka.Config `yaml:"kafka"`
	Lending  Lending      `yaml:"lending"`
	Log      logger.Log   `yaml:"log"`
}

var (
	once sync.Once
	cfg  *Config
)

// NewConfig reads config from environment.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = &config
		printConfig(cfg)
	})

	return cfg
}

func printConfig(cfg *Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
