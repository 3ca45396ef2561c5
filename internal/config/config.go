package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type AgentConfig struct {
	UserID    string `envconfig:"USER_ID" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Remote data store
	DBDSN string `envconfig:"DB_DSN" required:"true"`

	// Durable local store
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// AWS / SQS push channel
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	// Dispatch
	ThrottleInterval time.Duration `envconfig:"THROTTLE_INTERVAL" default:"15s"`
	RetryDelay       time.Duration `envconfig:"RETRY_DELAY" default:"5m"`
	MaxAttempts      int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	SendAckTimeout   time.Duration `envconfig:"SEND_ACK_TIMEOUT" default:"2s"`

	// Device bridge (native send + approval UI)
	BridgeBaseURL string        `envconfig:"BRIDGE_BASE_URL" required:"true"`
	BridgeTimeout time.Duration `envconfig:"BRIDGE_TIMEOUT" default:"8s"`

	// Ingestion
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"1m"`
	RecencyWindow time.Duration `envconfig:"RECENCY_WINDOW" default:"30m"`

	// Connectivity probe
	ProbeInterval time.Duration `envconfig:"PROBE_INTERVAL" default:"30s"`
	ProbeTimeout  time.Duration `envconfig:"PROBE_TIMEOUT" default:"3s"`
}

func LoadAgent() AgentConfig {
	var cfg AgentConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
