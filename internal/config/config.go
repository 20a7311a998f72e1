package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SessionsMemory   = "memory"
	SessionsPostgres = "postgres"
	SessionsRedis    = "redis"

	BackendNode  = "node"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

type Config struct {
	ListenAddr  string      `yaml:"listen_addr" json:"listen_addr"`
	Log         Log         `yaml:"log" json:"log"`
	Upload      Upload      `yaml:"upload" json:"upload"`
	Sessions    Sessions    `yaml:"sessions" json:"sessions"`
	Backend     Backend     `yaml:"backend" json:"backend"`
	Replication Replication `yaml:"replication" json:"replication"`
	Client      Client      `yaml:"client" json:"client"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
	File   string `yaml:"file" json:"file"`
}

// Upload holds the protocol limits and timings.
type Upload struct {
	ChunkSize       int64    `yaml:"chunk_size" json:"chunk_size"`
	MaxChunkSize    int64    `yaml:"max_chunk_size" json:"max_chunk_size"`
	MaxFileSize     int64    `yaml:"max_file_size" json:"max_file_size"`
	MaxRequestBytes int64    `yaml:"max_request_bytes" json:"max_request_bytes"`
	DestinationRoot string   `yaml:"destination_root" json:"destination_root"`
	SessionTTL      Duration `yaml:"session_ttl" json:"session_ttl"`
	ReapInterval    Duration `yaml:"reap_interval" json:"reap_interval"`
	Retry           Retry    `yaml:"retry" json:"retry"`
}

type Retry struct {
	CallTimeout     Duration `yaml:"call_timeout" json:"call_timeout"`
	MaxAttempts     int      `yaml:"max_attempts" json:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval" json:"max_interval"`
}

type Sessions struct {
	Driver    string `yaml:"driver" json:"driver"`
	DSN       string `yaml:"dsn" json:"-"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisDB   int    `yaml:"redis_db" json:"redis_db"`
	RedisPass string `yaml:"redis_password" json:"-"`
}

type Backend struct {
	Driver string `yaml:"driver" json:"driver"`
	Node   Node   `yaml:"node" json:"node"`
	S3     S3     `yaml:"s3" json:"s3"`
	Minio  Minio  `yaml:"minio" json:"minio"`
}

type Node struct {
	URL string `yaml:"url" json:"url"`
}

type S3 struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
}

type Minio struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Secure    bool   `yaml:"secure" json:"secure"`
}

// Replication configures the post-commit mirror of finished objects.
type Replication struct {
	Timeout Duration          `yaml:"timeout" json:"timeout"`
	Rules   []ReplicationRule `yaml:"rules" json:"rules"`
}

type ReplicationRule struct {
	Office string `yaml:"office" json:"office"`
	Root   string `yaml:"root" json:"root"`
}

// Client configures the uploader CLI. A nil DiscardOnCancel keeps the client
// default, which discards the server session of a cancelled file.
type Client struct {
	ServerURL           string   `yaml:"server_url" json:"server_url"`
	AllowedContentTypes []string `yaml:"allowed_content_types" json:"allowed_content_types"`
	Concurrency         int      `yaml:"concurrency" json:"concurrency"`
	DiscardOnCancel     *bool    `yaml:"discard_on_cancel" json:"discard_on_cancel"`
}

// Default возвращает рабочую конфигурацию для локального запуска.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		Log:        Log{Level: "info"},
		Upload: Upload{
			ChunkSize:       4 << 20,
			MaxChunkSize:    8 << 20,
			MaxFileSize:     512 << 20,
			MaxRequestBytes: 12 << 20,
			DestinationRoot: "/uploads",
			SessionTTL:      Duration(2 * time.Hour),
			ReapInterval:    Duration(10 * time.Minute),
			Retry: Retry{
				CallTimeout:     Duration(30 * time.Second),
				MaxAttempts:     4,
				InitialInterval: Duration(200 * time.Millisecond),
				MaxInterval:     Duration(5 * time.Second),
			},
		},
		Sessions: Sessions{Driver: SessionsMemory},
		Backend: Backend{
			Driver: BackendNode,
			Node:   Node{URL: "http://localhost:8081"},
			S3:     S3{Region: "us-east-1"},
		},
		Replication: Replication{Timeout: Duration(time.Minute)},
		Client: Client{
			ServerURL:   "http://localhost:8080",
			Concurrency: 3,
			AllowedContentTypes: []string{
				"application/pdf",
				"image/jpeg",
				"image/png",
			},
		},
	}
}

// Load читает YAML-конфигурацию, применяет ENV-переопределения и возвращает актуальную структуру.
// A missing file at the default path yields the defaults.
func Load() (*Config, error) {
	path, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit {
		path = "./config.yaml"
	}

	c := Default()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, err
	}

	applyEnv(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	// ENV override
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SESSIONS_DRIVER"); v != "" {
		c.Sessions.Driver = v
	}
	if v := os.Getenv("SESSIONS_DSN"); v != "" {
		c.Sessions.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Sessions.RedisAddr = v
	}
	if v := os.Getenv("BACKEND_DRIVER"); v != "" {
		c.Backend.Driver = v
	}
	if v := os.Getenv("NODE_URL"); v != "" {
		c.Backend.Node.URL = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Backend.S3.Bucket = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.Backend.S3.Endpoint = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.Backend.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Backend.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Backend.Minio.SecretKey = v
	}
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Upload.ChunkSize = n
		}
	}
	if v := os.Getenv("ALLOWED_CONTENT_TYPES"); v != "" {
		c.Client.AllowedContentTypes = splitComma(v)
	}
}

// Validate checks the drivers and the size limits for consistency.
func (c *Config) Validate() error {
	switch c.Sessions.Driver {
	case SessionsMemory:
	case SessionsPostgres:
		if strings.TrimSpace(c.Sessions.DSN) == "" {
			return fmt.Errorf("sessions.dsn is required for the postgres driver")
		}
	case SessionsRedis:
		if strings.TrimSpace(c.Sessions.RedisAddr) == "" {
			return fmt.Errorf("sessions.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown sessions driver %q", c.Sessions.Driver)
	}

	switch c.Backend.Driver {
	case BackendNode:
		if c.Backend.Node.URL == "" {
			return fmt.Errorf("backend.node.url is required")
		}
	case BackendS3:
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required")
		}
	case BackendMinio:
		if c.Backend.Minio.Endpoint == "" || c.Backend.Minio.Bucket == "" {
			return fmt.Errorf("backend.minio.endpoint and backend.minio.bucket are required")
		}
	default:
		return fmt.Errorf("unknown backend driver %q", c.Backend.Driver)
	}

	u := c.Upload
	if u.ChunkSize <= 0 {
		return fmt.Errorf("upload.chunk_size must be > 0")
	}
	if u.MaxChunkSize < u.ChunkSize {
		return fmt.Errorf("upload.max_chunk_size must be >= upload.chunk_size")
	}
	if u.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be > 0")
	}
	// base64 inflates chunks by 4/3, the request ceiling must fit the largest one.
	if encoded := (u.MaxChunkSize + 2) / 3 * 4; u.MaxRequestBytes > 0 && encoded >= u.MaxRequestBytes {
		return fmt.Errorf("upload.max_request_bytes %d cannot carry a base64 chunk of %d bytes", u.MaxRequestBytes, u.MaxChunkSize)
	}

	for _, r := range c.Replication.Rules {
		if strings.TrimSpace(r.Office) == "" || strings.TrimSpace(r.Root) == "" {
			return fmt.Errorf("replication rules need office and root")
		}
	}

	return nil
}

// Duration is a time.Duration that reads Go duration strings from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}
