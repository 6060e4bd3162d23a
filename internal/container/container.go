// Package container wires the service together with samber/do.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/purview/internal/analytics"
	analyticsstore "github.com/serroba/purview/internal/analytics/store"
	"github.com/serroba/purview/internal/handlers"
	"github.com/serroba/purview/internal/health"
	"github.com/serroba/purview/internal/imageproxy"
	"github.com/serroba/purview/internal/lookup"
	"github.com/serroba/purview/internal/messaging"
	"github.com/serroba/purview/internal/metrics"
	"github.com/serroba/purview/internal/middleware"
	"github.com/serroba/purview/internal/partnercache"
	"github.com/serroba/purview/internal/preview"
	"github.com/serroba/purview/internal/ratelimit"
	"github.com/serroba/purview/internal/render"
	"github.com/serroba/purview/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// AnalyticsConsumerGroup is the Redis stream consumer group of the analytics consumer.
	AnalyticsConsumerGroup = "purview-analytics"

	sweepInterval = time.Minute
	// longest window used by the default policy and the redirect route
	sweepWindow = time.Hour
)

// Resources closes connections opened by the packages, newest first.
type Resources struct {
	mu      sync.Mutex
	closers []func() error
}

// Add registers fn to run on Shutdown.
func (r *Resources) Add(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closers = append(r.closers, fn)
}

// Shutdown runs every registered closer.
func (r *Resources) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	r.closers = nil

	return errors.Join(errs...)
}

// New creates an injector holding the options and the shared Resources.
func New(options *Options) *do.Injector {
	injector := do.New()
	do.ProvideValue(injector, options)
	do.ProvideValue(injector, &Resources{})

	return injector
}

// NewLogger builds a console (development) or json (production) logger.
func NewLogger(format, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewDevelopmentConfig()
	if format == "json" {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		return NewLogger(opts.LogFormat, opts.LogLevel)
	})
}

func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*redis.Client, error) {
		opts := do.MustInvoke[*Options](i)
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		do.MustInvoke[*Resources](i).Add(client.Close)

		return client, nil
	})
}

func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		opts := do.MustInvoke[*Options](i)

		pool, err := pgxpool.New(context.Background(), opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		do.MustInvoke[*Resources](i).Add(func() error {
			pool.Close()

			return nil
		})

		return pool, nil
	})
}

func MetricsPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*metrics.Recorder, error) {
		return metrics.NewRecorder(), nil
	})
}

// LookupPackage provides the redirect lookup selected by LookupBackend.
func LookupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (preview.Lookup, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.LookupBackend {
		case LookupPostgres:
			return store.NewPostgresRedirectStore(do.MustInvoke[*pgxpool.Pool](i), store.DefaultRedirectTable), nil
		case LookupFile:
			return store.NewFileRedirectStore(opts.LookupFile, lookup.DefaultFields), nil
		}

		cfg := lookup.DefaultConfig()
		cfg.BaseURL = opts.LookupBaseURL
		cfg.Path = opts.LookupPath
		cfg.Timeout = ms(opts.LookupTimeoutMS)
		cfg.MaxRetries = opts.LookupRetries
		cfg.BaseBackoff = ms(opts.LookupBackoffMS)
		cfg.IncludeTop = opts.LookupIncludeTop

		return lookup.NewClient(cfg, nil, do.MustInvoke[*metrics.Recorder](i), do.MustInvoke[*zap.Logger](i))
	})
}

// PartnerPackage provides the partner config loader selected by PartnerStore
// and the cache in front of it.
func PartnerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (partnercache.Loader, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.PartnerStore {
		case PartnerRedis:
			return store.NewRedisConfigStore(do.MustInvoke[*redis.Client](i), opts.PartnerRedisPrefix), nil
		case PartnerPebble:
			s, err := store.OpenPebbleConfigStore(opts.PartnerPebbleDir, nil)
			if err != nil {
				return nil, err
			}

			do.MustInvoke[*Resources](i).Add(s.Close)

			return s, nil
		}

		return store.NewFileConfigStore(opts.PartnerDir), nil
	})

	do.Provide(injector, func(i *do.Injector) (*partnercache.Cache, error) {
		opts := do.MustInvoke[*Options](i)

		return partnercache.New(do.MustInvoke[partnercache.Loader](i), partnercache.Config{
			TTL:      time.Duration(opts.CacheTTLSeconds) * time.Second,
			MaxSize:  opts.CacheMaxSize,
			Observer: do.MustInvoke[*metrics.Recorder](i),
		}, do.MustInvoke[*zap.Logger](i))
	})
}

// PreviewPackage provides the resolver, the renderer, the image fetcher and
// the HTTP handler built on them.
func PreviewPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*preview.Resolver, error) {
		opts := do.MustInvoke[*Options](i)

		return preview.NewResolver(
			do.MustInvoke[preview.Lookup](i),
			do.MustInvoke[*partnercache.Cache](i),
			preview.Defaults{
				ImageURL:      opts.ImageURL(),
				ThemeColor:    opts.DefaultThemeColor,
				PublicBaseURL: opts.PublicBaseURL,
			},
			do.MustInvoke[*metrics.Recorder](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (*render.Renderer, error) {
		return render.New(
			do.MustInvoke[*Options](i).FunctionHost,
			do.MustInvoke[*preview.Resolver](i).PlaceholderURL,
		)
	})

	do.Provide(injector, func(i *do.Injector) (*imageproxy.HTTPFetcher, error) {
		opts := do.MustInvoke[*Options](i)

		return imageproxy.NewHTTPFetcher(imageproxy.Config{
			Timeout:  ms(opts.ImageTimeoutMS),
			MaxBytes: opts.ImageMaxBytes,
		}, do.MustInvoke[*zap.Logger](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*handlers.PreviewHandler, error) {
		opts := do.MustInvoke[*Options](i)
		recorder := do.MustInvoke[*metrics.Recorder](i)

		return handlers.NewPreviewHandler(
			do.MustInvoke[*preview.Resolver](i),
			do.MustInvoke[*render.Renderer](i),
			do.MustInvoke[*imageproxy.HTTPFetcher](i),
			do.MustInvoke[messaging.Publish[analytics.PreviewServedEvent]](i),
			handlers.Config{
				ResolveTimeout: ms(opts.ResolveTimeoutMS),
				Drops:          recorder,
			},
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// MessagingPackage provides the watermill publisher and subscriber of the
// analytics transport. The memory transport shares one in-process channel.
func MessagingPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*gochannel.GoChannel, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, newWatermillLogger(logger)), nil
	})

	do.Provide(injector, func(i *do.Injector) (message.Publisher, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.Analytics == ModeMemory {
			return do.MustInvoke[*gochannel.GoChannel](i), nil
		}

		return redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     do.MustInvoke[*redis.Client](i),
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, newWatermillLogger(do.MustInvoke[*zap.Logger](i)))
	})

	do.Provide(injector, func(i *do.Injector) (message.Subscriber, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.Analytics == ModeMemory {
			return do.MustInvoke[*gochannel.GoChannel](i), nil
		}

		return redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        do.MustInvoke[*redis.Client](i),
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: AnalyticsConsumerGroup,
		}, newWatermillLogger(do.MustInvoke[*zap.Logger](i)))
	})
}

// PublisherGroupPackage provides the typed analytics publish function.
// With analytics off every event is discarded.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		return messaging.NewPublisherGroup(do.MustInvoke[message.Publisher](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (messaging.Publish[analytics.PreviewServedEvent], error) {
		if do.MustInvoke[*Options](i).Analytics == ModeOff {
			return messaging.Discard[analytics.PreviewServedEvent](), nil
		}

		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewPublishFunc[analytics.PreviewServedEvent](group.Publisher(), analytics.TopicPreviewServed), nil
	})
}

// AnalyticsStorePackage persists events to Postgres when a database is
// configured and logs them otherwise.
func AnalyticsStorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (analytics.Store, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.DatabaseURL == "" {
			return analyticsstore.NewNoop(do.MustInvoke[*zap.Logger](i)), nil
		}

		pg := analyticsstore.NewPostgres(do.MustInvoke[*pgxpool.Pool](i))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate analytics store: %w", err)
		}

		return pg, nil
	})
}

func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)
		subscriber := do.MustInvoke[message.Subscriber](i)

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer(
			subscriber,
			analytics.TopicPreviewServed,
			analytics.NewPreviewServedHandler(do.MustInvoke[analytics.Store](i)),
			logger,
		))

		return group, nil
	})
}

// RateLimitPackage provides the policy limiter backed by the store selected by RateLimit.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (ratelimit.Store, error) {
		if do.MustInvoke[*Options](i).RateLimit == ModeRedis {
			return store.NewRateLimitRedisStore(do.MustInvoke[*redis.Client](i), nil), nil
		}

		s := store.NewRateLimitMemoryStore(nil)
		do.MustInvoke[*Resources](i).Add(startSweeper(s, do.MustInvoke[*zap.Logger](i)))

		return s, nil
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.PolicyLimiter, error) {
		limiter := ratelimit.NewPolicyLimiter(do.MustInvoke[ratelimit.Store](i), ratelimit.DefaultPolicy())

		return limiter.WithObserver(do.MustInvoke[*metrics.Recorder](i)), nil
	})
}

// startSweeper drops idle rate limit keys until the returned stop func is called.
func startSweeper(s *store.RateLimitMemoryStore, logger *zap.Logger) func() error {
	ticker := time.NewTicker(sweepInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(sweepWindow); n > 0 {
					logger.Debug("swept idle rate limit keys", zap.Int("keys", n))
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		ticker.Stop()
		close(done)

		return nil
	}
}

func HealthPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*health.Handler, error) {
		opts := do.MustInvoke[*Options](i)
		checkers := map[string]health.Checker{}

		if opts.usesRedis() {
			checkers["redis"] = health.RedisChecker(do.MustInvoke[*redis.Client](i))
		}

		if opts.usesPostgres() {
			checkers["postgres"] = health.PostgresChecker(do.MustInvoke[*pgxpool.Pool](i))
		}

		return health.NewHandler(checkers), nil
	})
}

// HTTPPackage provides the router and the huma API with every route registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)
		recorder := do.MustInvoke[*metrics.Recorder](i)

		api := humachi.New(router, huma.DefaultConfig("Purview", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))

		if opts.RateLimit != ModeOff {
			api.UseMiddleware(middleware.PolicyRateLimiter(
				api,
				do.MustInvoke[*ratelimit.PolicyLimiter](i),
				ratelimit.NewOperationScopeResolver(),
				logger,
			))
		}

		handlers.RegisterRoutes(api, do.MustInvoke[*handlers.PreviewHandler](i))
		health.RegisterRoutes(api, do.MustInvoke[*health.Handler](i))
		router.Handle("/metrics", recorder.Handler())

		return api, nil
	})
}

// ServerPackages registers everything the HTTP server needs.
func ServerPackages(injector *do.Injector) {
	LoggerPackage(injector)
	RedisPackage(injector)
	PostgresPackage(injector)
	MetricsPackage(injector)
	LookupPackage(injector)
	PartnerPackage(injector)
	MessagingPackage(injector)
	PublisherGroupPackage(injector)
	AnalyticsStorePackage(injector)
	ConsumerGroupPackage(injector)
	PreviewPackage(injector)
	RateLimitPackage(injector)
	HealthPackage(injector)
	HTTPPackage(injector)
}
