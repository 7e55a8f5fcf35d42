// Package cfg loads the front-end's persisted context (spec §6,
// "Environment & persisted state") from a TOML file, using the
// teacher's own BurntSushi/toml dependency (carried via its `replace`
// to Dieterbe/toml in go.mod).
package cfg

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Context mirrors original_source's DysectFEContext_t / Frontend
// static fields: the front-end's select-loop timeout and its
// breakpoint-on-enter/timeout stop-condition flags (spec §6, §9).
type Context struct {
	StreamTimeoutSeconds int  `toml:"stream-timeout-seconds"`
	BreakOnEnter         bool `toml:"break-on-enter"`
	BreakOnTimeout       bool `toml:"break-on-timeout"`
	Verbose              bool `toml:"verbose"`

	Report ReportConfig `toml:"report"`
}

// ReportConfig selects and configures the optional report.Reporter
// backend(s) cmd/dysectfe wires up (SPEC_FULL §C.9); any subset may
// be left zero-valued to leave that sink disabled.
type ReportConfig struct {
	Kafka      *KafkaConfig      `toml:"kafka"`
	AMQP       *AMQPConfig       `toml:"amqp"`
	PubSub     *PubSubConfig     `toml:"pubsub"`
	CloudWatch *CloudWatchConfig `toml:"cloudwatch"`
}

type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type AMQPConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type PubSubConfig struct {
	ProjectID string `toml:"project-id"`
	TopicID   string `toml:"topic-id"`
}

type CloudWatchConfig struct {
	Region    string `toml:"region"`
	Namespace string `toml:"namespace"`
}

// StreamTimeout is StreamTimeoutSeconds as a time.Duration, the form
// the front-end's select loop actually consumes.
func (c Context) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}

// Default matches original_source's Frontend static initializers
// (selectTimeout defaults permissive, both break conditions off).
func Default() Context {
	return Context{StreamTimeoutSeconds: 60}
}

// Load reads and decodes a TOML file at path, starting from Default()
// so an incomplete file still yields sane values.
func Load(path string) (Context, error) {
	c := Default()
	_, err := toml.DecodeFile(path, &c)
	return c, err
}
