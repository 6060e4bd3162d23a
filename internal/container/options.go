package container

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/serroba/purview/internal/preview"
)

// Backend and mode names accepted by Options.
const (
	LookupHTTP     = "http"
	LookupPostgres = "postgres"
	LookupFile     = "file"

	PartnerFile   = "file"
	PartnerRedis  = "redis"
	PartnerPebble = "pebble"

	ModeOff    = "off"
	ModeMemory = "memory"
	ModeRedis  = "redis"
)

const (
	maxLookupRetries   = 10
	maxLookupBackoffMS = 60000
)

// Options configures the server. Every field is also read from SERVICE_* variables.
type Options struct {
	Port      int    `default:"8888"    help:"Port to listen on"                  short:"p"`
	LogFormat string `default:"console" help:"Log format: console or json"`
	LogLevel  string `default:"info"    help:"Log level: debug, info, warn, error"`

	PublicBaseURL     string `default:"https://r.duitai.in" help:"Public base URL used for fallback links"`
	FunctionHost      string `default:""                    help:"Absolute host prefixed to og:image"`
	DefaultImageURL   string `default:""                    help:"Fallback hero image (defaults under the public base URL)"`
	DefaultThemeColor string `default:"#0047AB"             help:"Fallback theme color"`

	LookupBackend    string `default:"http"      help:"Redirect lookup backend: http, postgres or file"`
	LookupBaseURL    string `default:""          help:"Base URL of the redirect query service"`
	LookupPath       string `default:"redirects" help:"Entity path under the lookup base URL"`
	LookupTimeoutMS  int    `default:"4000"      help:"Per-attempt lookup timeout in milliseconds"`
	LookupRetries    int    `default:"2"         help:"Lookup retries after the first attempt"`
	LookupBackoffMS  int    `default:"300"       help:"First lookup backoff in milliseconds"`
	LookupIncludeTop bool   `default:"true"      help:"Append $top=1 to lookup queries"`
	LookupFile       string `default:""          help:"JSON file of redirect rows for the file backend"`
	DatabaseURL      string `default:""          help:"Postgres connection string"`

	PartnerStore       string `default:"file"                     help:"Partner config store: file, redis or pebble"`
	PartnerDir         string `default:"redirect_previews/lenders" help:"Directory of partner documents"`
	PartnerPebbleDir   string `default:""                         help:"Pebble directory of partner documents"`
	PartnerRedisPrefix string `default:"lenders:"                 help:"Redis key prefix of partner documents"`
	CacheTTLSeconds    int    `default:"3600"                     help:"Partner config cache TTL in seconds"`
	CacheMaxSize       int    `default:"256"                      help:"Maximum cached partner configs"`

	ResolveTimeoutMS int    `default:"10000"          help:"Upper bound of one resolution in milliseconds"`
	RedisAddr        string `default:"localhost:6379" help:"Redis server address"                           short:"r"`
	Analytics        string `default:"off"            help:"Analytics transport: off, memory or redis"`
	RateLimit        string `default:"memory"         help:"Rate limit store: memory, redis or off"`
	ImageTimeoutMS   int    `default:"5000"           help:"Image fetch timeout in milliseconds"`
	ImageMaxBytes    int64  `default:"10485760"       help:"Largest proxied image in bytes"`
}

// Validate reports every invalid option at once.
func (o *Options) Validate() error {
	var errs []error

	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", o.Port))
	}

	if !slices.Contains([]string{"console", "json"}, o.LogFormat) {
		errs = append(errs, fmt.Errorf("unknown log format %q", o.LogFormat))
	}

	if !preview.IsAbsoluteHTTPURL(o.PublicBaseURL) {
		errs = append(errs, fmt.Errorf("public base url %q is not an absolute http url", o.PublicBaseURL))
	}

	switch o.LookupBackend {
	case LookupHTTP:
		if !preview.IsAbsoluteHTTPURL(o.LookupBaseURL) {
			errs = append(errs, errors.New("http lookup backend needs an absolute lookup base url"))
		}
	case LookupPostgres:
		if o.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres lookup backend needs a database url"))
		}
	case LookupFile:
		if o.LookupFile == "" {
			errs = append(errs, errors.New("file lookup backend needs a lookup file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lookup backend %q", o.LookupBackend))
	}

	if o.LookupTimeoutMS <= 0 {
		errs = append(errs, errors.New("lookup timeout must be positive"))
	}

	if o.LookupRetries < 0 || o.LookupRetries > maxLookupRetries {
		errs = append(errs, fmt.Errorf("lookup retries must be between 0 and %d", maxLookupRetries))
	}

	if o.LookupBackoffMS < 0 || o.LookupBackoffMS > maxLookupBackoffMS {
		errs = append(errs, fmt.Errorf("lookup backoff must be between 0 and %dms", maxLookupBackoffMS))
	}

	switch o.PartnerStore {
	case PartnerFile:
		if o.PartnerDir == "" {
			errs = append(errs, errors.New("file partner store needs a directory"))
		}
	case PartnerPebble:
		if o.PartnerPebbleDir == "" {
			errs = append(errs, errors.New("pebble partner store needs a directory"))
		}
	case PartnerRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown partner store %q", o.PartnerStore))
	}

	if o.CacheTTLSeconds <= 0 || o.CacheMaxSize <= 0 {
		errs = append(errs, errors.New("cache ttl and size must be positive"))
	}

	if !slices.Contains([]string{ModeOff, ModeMemory, ModeRedis}, o.Analytics) {
		errs = append(errs, fmt.Errorf("unknown analytics mode %q", o.Analytics))
	}

	if !slices.Contains([]string{ModeOff, ModeMemory, ModeRedis}, o.RateLimit) {
		errs = append(errs, fmt.Errorf("unknown rate limit mode %q", o.RateLimit))
	}

	if o.usesRedis() && o.RedisAddr == "" {
		errs = append(errs, errors.New("redis address is required by the selected options"))
	}

	return errors.Join(errs...)
}

// ImageURL returns the configured fallback hero image.
func (o *Options) ImageURL() string {
	if o.DefaultImageURL != "" {
		return o.DefaultImageURL
	}

	return strings.TrimRight(o.PublicBaseURL, "/") + "/static/default-og.png"
}

func (o *Options) usesRedis() bool {
	return o.PartnerStore == PartnerRedis || o.Analytics == ModeRedis || o.RateLimit == ModeRedis
}

func (o *Options) usesPostgres() bool {
	return o.LookupBackend == LookupPostgres
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
