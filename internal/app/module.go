// Package app composes the daemon from its parts: profile lock, cache store,
// remote client, connectivity monitor, sync orchestrator, services, and the
// realtime feed, wired together with fx.
package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/auth"
	"github.com/franciszver/cohort3-challenge2/internal/bus"
	"github.com/franciszver/cohort3-challenge2/internal/cache"
	"github.com/franciszver/cohort3-challenge2/internal/chat"
	"github.com/franciszver/cohort3-challenge2/internal/config"
	"github.com/franciszver/cohort3-challenge2/internal/feed"
	"github.com/franciszver/cohort3-challenge2/internal/kv"
	"github.com/franciszver/cohort3-challenge2/internal/lock"
	"github.com/franciszver/cohort3-challenge2/internal/logging"
	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/netmon"
	"github.com/franciszver/cohort3-challenge2/internal/profile"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
	"github.com/franciszver/cohort3-challenge2/internal/sender"
	"github.com/franciszver/cohort3-challenge2/internal/syncer"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatsyncd",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideCache,
			provideOracle,
			provideClient,
			provideMonitor,
			provideResolver,
			provideMessageService,
			provideConversationService,
			provideOrchestrator,
			provideFeed,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Info("no usable config file, using defaults", zap.Error(err))
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*kv.SQLite, error) {
	dbPath := profile.CacheDBPath(p.ProfileName)
	store, err := kv.Open(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Info("cache store opened", zap.String("path", dbPath))
	return store, nil
}

func provideCache(store *kv.SQLite, cfg *config.Config, logger *zap.Logger) *cache.Manager {
	return cache.NewManager(store, cache.Options{
		MaxMessages:      cfg.Cache.MaxMessages,
		MaxConversations: cfg.Cache.MaxConversations,
		Expiry:           cfg.Cache.Expiry.Duration,
	}, logger)
}

// provideOracle builds the identity source. Credentials are provisioned out
// of band and read from the environment.
func provideOracle() auth.Oracle {
	return &auth.Static{
		User: model.User{
			ID:       os.Getenv("CHATSYNC_USER_ID"),
			Username: os.Getenv("CHATSYNC_USERNAME"),
		},
		AuthToken: os.Getenv("CHATSYNC_TOKEN"),
	}
}

func provideClient(cfg *config.Config, oracle auth.Oracle, logger *zap.Logger) *remote.Client {
	token := func() string {
		tok, err := oracle.Token(context.Background())
		if err != nil {
			return ""
		}
		return tok
	}
	return remote.NewClient(cfg.Remote.Endpoint, cfg.Remote.WSEndpoint, token, logger)
}

func provideMonitor(cfg *config.Config, client *remote.Client, b *bus.Bus, logger *zap.Logger) *netmon.Monitor {
	probeURL := cfg.Network.ProbeURL
	if probeURL == "" {
		probeURL = client.Endpoint()
	}
	if probeURL == "" {
		// No API configured yet; probe general internet reachability.
		probeURL = "https://connectivitycheck.gstatic.com/generate_204"
	}
	return netmon.New(netmon.HTTPProbe(probeURL), netmon.Options{
		ProbeInterval: cfg.Network.ProbeInterval.Duration,
		ProbeTimeout:  cfg.Network.ProbeTimeout.Duration,
		SettleDelay:   cfg.Sync.SettleDelay.Duration,
	}, b, logger)
}

func provideResolver(client *remote.Client, c *cache.Manager, logger *zap.Logger) *sender.Resolver {
	return sender.NewResolver(client, c, logger)
}

func provideMessageService(client *remote.Client, c *cache.Manager, monitor *netmon.Monitor, oracle auth.Oracle, b *bus.Bus, logger *zap.Logger) *chat.MessageService {
	return chat.NewMessageService(client, c, monitor, oracle, b, logger)
}

func provideConversationService(client *remote.Client, c *cache.Manager, oracle auth.Oracle, b *bus.Bus, logger *zap.Logger) *chat.ConversationService {
	return chat.NewConversationService(client, c, oracle, b, logger)
}

func provideOrchestrator(c *cache.Manager, client *remote.Client, monitor *netmon.Monitor, convs *chat.ConversationService, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *syncer.Orchestrator {
	return syncer.New(c, client, monitor, convs, b, logger, syncer.Options{
		Interval:    cfg.Sync.Interval.Duration,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})
}

func provideFeed(oracle auth.Oracle, b *bus.Bus, logger *zap.Logger) *feed.Feed {
	userID := ""
	if user, err := oracle.CurrentUser(context.Background()); err == nil {
		userID = user.ID
	}
	return feed.New(userID, b, logger)
}

// Session coordinates sign-out: the remote session ends, then every piece of
// local state derived from it is wiped.
type Session struct {
	oracle   auth.Oracle
	cache    *cache.Manager
	resolver *sender.Resolver
	feed     *feed.Feed
	logger   *zap.Logger
}

func provideSession(oracle auth.Oracle, c *cache.Manager, r *sender.Resolver, fd *feed.Feed, logger *zap.Logger) *Session {
	return &Session{oracle: oracle, cache: c, resolver: r, feed: fd, logger: logger}
}

// SignOut ends the session, closes realtime streams, and clears the cache and
// sender memo so no other account's data leaks into the next session.
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.oracle.SignOut(ctx); err != nil {
		return err
	}
	s.feed.Close()
	s.resolver.Clear()
	if err := s.cache.ClearAll(ctx); err != nil {
		s.logger.Warn("failed to clear cache on sign-out", zap.Error(err))
		return err
	}
	s.logger.Info("signed out, local state cleared")
	return nil
}

func registerLifecycle(lc fx.Lifecycle, monitor *netmon.Monitor, orch *syncer.Orchestrator, fd *feed.Feed, client *remote.Client, store *kv.SQLite, lk *lock.Lock, oracle auth.Oracle, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := monitor.Start(ctx); err != nil {
				return err
			}
			if err := orch.Start(ctx); err != nil {
				return err
			}

			// The conversation stream needs a session; without one the
			// daemon still serves cached state.
			if _, err := oracle.CurrentUser(ctx); err == nil {
				go func() {
					if err := fd.WatchConversations(context.Background(), client); err != nil {
						logger.Warn("conversation stream unavailable", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no session, realtime feed disabled")
			}

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			fd.Close()
			if err := orch.Stop(ctx); err != nil {
				logger.Warn("orchestrator stop timed out", zap.Error(err))
			}
			if err := monitor.Stop(ctx); err != nil {
				logger.Warn("monitor stop timed out", zap.Error(err))
			}
			if err := store.Close(); err != nil {
				logger.Warn("error closing cache store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
