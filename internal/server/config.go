package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

type Config struct {
	DatabaseURL string `env:"FILES_VAULT_DATABASE_URL,required,notEmpty"`
	ContentDir  string `env:"FILES_VAULT_CONTENT_DIR,required,notEmpty"`
	BindAddr    string `env:"FILES_VAULT_BIND_ADDR,required,notEmpty"`
	Port        int    `env:"FILES_VAULT_PORT,required"`

	TokenKey      string `env:"FILES_VAULT_TOKEN_KEY,required,notEmpty"`
	TokenIssuer   string `env:"FILES_VAULT_TOKEN_ISSUER"`
	TokenAudience string `env:"FILES_VAULT_TOKEN_AUDIENCE"`

	AdminAddr       string        `env:"FILES_VAULT_ADMIN_ADDR" envDefault:":9090"`
	MaxUploadSize   ByteSize      `env:"FILES_VAULT_MAX_UPLOAD_SIZE" envDefault:"4GiB"`
	MaxFrameSize    ByteSize      `env:"FILES_VAULT_MAX_FRAME_SIZE" envDefault:"8MiB"`
	DBMaxOpenConns  int           `env:"FILES_VAULT_DB_MAX_OPEN_CONNS" envDefault:"10"`
	RequestTimeout  time.Duration `env:"FILES_VAULT_REQUEST_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"FILES_VAULT_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        slog.Level    `env:"FILES_VAULT_LOG_LEVEL" envDefault:"info"`
}

// Addr is the gRPC listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// ByteSize is a size in bytes parsed from human readable text such as
// "512KiB" or "4GB".
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("failed to parse byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}
