// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/invowk/upkeep/internal/clock"
	"github.com/invowk/upkeep/internal/config"
	"github.com/invowk/upkeep/internal/credential"
	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/internal/logging"
	"github.com/invowk/upkeep/internal/selfupdate"
	"github.com/invowk/upkeep/internal/store"

	"golang.org/x/time/rate"
)

const (
	// defaultInstanceID names the installation described by the top-level settings.
	defaultInstanceID = "default"

	// repositoryMarkerKey remembers which repository an instance's snapshot belongs to.
	repositoryMarkerKey = "snapshot_repository"

	logCategoryCLI = "cli"
)

type (
	// KVStore is the data-directory store the CLI opens once per invocation.
	KVStore interface {
		store.KV
		io.Closer
	}

	// StoreOpener opens the store in dataDir.
	StoreOpener func(dataDir string, c clock.Clock) (KVStore, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and builds its per-invocation session through it.
	App struct {
		Config    config.Provider
		openStore StoreOpener
		clock     clock.Clock
		stdin     io.Reader
		stdout    io.Writer
		stderr    io.Writer
		flags     globalFlags
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config    config.Provider
		OpenStore StoreOpener
		Clock     clock.Clock
		Stdin     io.Reader
		Stdout    io.Writer
		Stderr    io.Writer
	}

	globalFlags struct {
		configPath string
		instance   string
		output     string
		logLevel   string
		verbose    bool
	}

	// session is one loaded configuration with its open store.
	session struct {
		app     *App
		cfg     *config.Config
		cfgPath string
		dataDir string
		logger  *logging.Logger
		kv      KVStore
		// credentials is nil when no key material is configured.
		credentials *credential.Store
		registry    *selfupdate.Registry
		invalid     map[string]error
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.OpenStore == nil {
		deps.OpenStore = openBadgerStore
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}

	return &App{
		Config:    deps.Config,
		openStore: deps.OpenStore,
		clock:     clock.OrReal(deps.Clock),
		stdin:     deps.Stdin,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
	}
}

func openBadgerStore(dataDir string, c clock.Clock) (KVStore, error) {
	return store.OpenBadger(dataDir, store.WithClock(c))
}

func (a *App) loadConfig(ctx context.Context) (*config.LoadResult, error) {
	return a.Config.LoadWithSource(ctx, config.LoadOptions{ConfigFilePath: a.flags.configPath})
}

// newLogger honors --log-level, then --verbose, then the configured level.
func (a *App) newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := string(cfg.Log.Level)
	switch {
	case a.flags.logLevel != "":
		level = a.flags.logLevel
	case a.flags.verbose:
		level = string(config.LogLevelDebug)
	}

	logger, err := logging.New(a.stderr, logging.Options{
		Level:  level,
		Format: logging.Format(cfg.Log.Format),
	})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("configure logging").
			WithSuggestion("Use one of: debug, info, warn, error").
			WithIssue(issue.ConfigurationInvalidId).
			Wrap(fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)).
			BuildError()
	}
	return logger, nil
}

// openSession loads the configuration and opens the data directory. Callers
// must Close the session.
func (a *App) openSession(ctx context.Context) (*session, error) {
	res, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg := res.Config

	logger, err := a.newLogger(cfg)
	if err != nil {
		return nil, err
	}

	dataDir, err := config.DataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	kv, err := a.openStore(dataDir, a.clock)
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			return nil, issue.NewErrorContext().
				WithOperation("open data directory").
				WithResource(dataDir).
				WithSuggestion("Another upkeep process is using this data directory; wait for it to finish").
				WithIssue(issue.UpdateInProgressId).
				Wrap(err).
				BuildError()
		}
		return nil, fmt.Errorf("opening data directory: %w", err)
	}

	s := &session{
		app:     a,
		cfg:     cfg,
		cfgPath: res.Path,
		dataDir: dataDir,
		logger:  logger,
		kv:      kv,
	}

	material := credential.KeyMaterial{Secrets: cfg.Credential.Secrets, Salt: cfg.Credential.Salt}
	creds, err := credential.NewStore(kv, material, credential.WithLogger(logger))
	switch {
	case err == nil:
		s.credentials = creds
	case errors.Is(err, credential.ErrNoKeyMaterial):
		logger.Debug(logCategoryCLI, "no credential key material configured; requests are unauthenticated", nil)
	default:
		_ = kv.Close()
		return nil, err
	}

	s.registry, s.invalid = buildRegistry(cfg)
	for id, regErr := range s.invalid {
		logger.Warn(logCategoryCLI, "instance ignored", logging.Fields{"instance": id, "error": regErr.Error()})
	}
	return s, nil
}

// withSession runs fn with an open session and reports any error it returns.
func (a *App) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return a.fail(err, "")
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			s.logger.Warn(logCategoryCLI, "closing data directory", logging.Fields{"error": closeErr.Error()})
		}
	}()

	if err := fn(s); err != nil {
		return a.fail(err, "")
	}
	return nil
}

// Close releases the data directory.
func (s *session) Close() error {
	return s.kv.Close()
}

func buildRegistry(cfg *config.Config) (*selfupdate.Registry, map[string]error) {
	reg := selfupdate.NewRegistry()
	invalid := make(map[string]error)
	for id, inst := range cfg.Instances {
		if err := reg.Register(id, settingsFromInstance(inst)); err != nil {
			invalid[id] = err
		}
	}
	return reg, invalid
}

func settingsFromConfig(cfg *config.Config) selfupdate.Settings {
	return selfupdate.Settings{
		Repository:         cfg.Repository,
		AssetPrefix:        cfg.AssetPrefix,
		CurrentVersion:     cfg.CurrentVersion,
		IncludePrereleases: cfg.IncludePrereleases,
		APIBaseURL:         cfg.APIBaseURL,
	}
}

func settingsFromInstance(inst config.InstanceConfig) selfupdate.Settings {
	return selfupdate.Settings{
		Repository:         inst.Repository,
		AssetPrefix:        inst.AssetPrefix,
		CurrentVersion:     inst.CurrentVersion,
		IncludePrereleases: inst.IncludePrereleases,
		APIBaseURL:         inst.APIBaseURL,
	}
}

// instanceIDs lists the default instance followed by the configured ones.
func (s *session) instanceIDs() []string {
	return append([]string{defaultInstanceID}, s.registry.IDs()...)
}

// settingsFor returns the settings of instance id. The default instance is
// returned unvalidated so the pipeline reports what is missing.
func (s *session) settingsFor(id string) (selfupdate.Settings, error) {
	if id == "" || id == defaultInstanceID {
		return settingsFromConfig(s.cfg), nil
	}

	// Instance ids are case-folded when the config is decoded.
	id = strings.ToLower(id)
	if regErr, ok := s.invalid[id]; ok {
		return selfupdate.Settings{}, issue.NewErrorContext().
			WithOperation("select instance").
			WithResource(id).
			WithSuggestion("Fix the instance settings in the config file").
			WithIssue(issue.ConfigurationInvalidId).
			Wrap(&selfupdate.Error{Kind: selfupdate.KindConfiguration, Op: "validating instance", Err: regErr}).
			BuildError()
	}

	settings, err := s.registry.Get(id)
	if err != nil {
		return selfupdate.Settings{}, issue.NewErrorContext().
			WithOperation("select instance").
			WithResource(id).
			WithSuggestion("Known instances: "+strings.Join(s.instanceIDs(), ", ")).
			WithIssue(issue.ConfigurationInvalidId).
			Wrap(err).
			BuildError()
	}
	return settings, nil
}

// selectedInstance is the --instance value, or the default instance.
func (s *session) selectedInstance() string {
	if s.app.flags.instance == "" {
		return defaultInstanceID
	}
	return strings.ToLower(s.app.flags.instance)
}

// pipeline builds the pipeline for instance id. Snapshots and markers are
// scoped per instance; the release cache and update lock are shared, keyed
// by repository.
func (s *session) pipeline(id string) (*selfupdate.Pipeline, error) {
	settings, err := s.settingsFor(id)
	if err != nil {
		return nil, err
	}

	downloads := filepath.Join(s.dataDir, "downloads")
	if err := os.MkdirAll(downloads, 0o700); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	httpCfg := s.cfg.HTTP
	resolverOpts := []selfupdate.ResolverOption{
		selfupdate.WithResolverLogger(s.logger),
		selfupdate.WithResolverUserAgent(s.userAgent()),
		selfupdate.WithTimeouts(httpCfg.APITimeout.Std(), httpCfg.DownloadTimeout.Std()),
	}
	if settings.APIBaseURL != "" {
		resolverOpts = append(resolverOpts, selfupdate.WithResolverBaseURL(settings.APIBaseURL))
	}

	opts := []selfupdate.PipelineOption{
		selfupdate.WithLogger(s.logger),
		selfupdate.WithClock(s.app.clock),
		selfupdate.WithDownloadDir(downloads),
		selfupdate.WithResolver(selfupdate.NewArtifactResolver(resolverOpts...)),
		selfupdate.WithClientOptions(
			selfupdate.WithUserAgent(s.userAgent()),
			selfupdate.WithRequestTimeout(httpCfg.APITimeout.Std()),
			selfupdate.WithRateLimiter(newLimiter(httpCfg.RequestsPerSecond)),
		),
	}
	if s.credentials != nil {
		opts = append(opts, selfupdate.WithCredentials(s.credentials))
	}

	scoped := store.NewScoped(s.kv, "instance/"+id)
	p := selfupdate.NewPipeline(settings, scoped, s.kv, opts...)
	s.trackRepository(scoped, p, settings)
	return p, nil
}

// trackRepository invalidates the instance's snapshot when its configured
// repository differs from the one the snapshot was taken for.
func (s *session) trackRepository(options store.OptionStore, p *selfupdate.Pipeline, settings selfupdate.Settings) {
	repo, err := selfupdate.ParseRepository(settings.Repository)
	if err != nil {
		return
	}

	previous, ok, err := options.Get(repositoryMarkerKey)
	if err != nil {
		s.logger.Warn(logCategoryCLI, "reading repository marker", logging.Fields{"error": err.Error()})
		return
	}
	if ok && strings.EqualFold(string(previous), repo.String()) {
		return
	}
	if ok {
		if err := p.InvalidateSnapshot(); err != nil {
			s.logger.Warn(logCategoryCLI, "invalidating snapshot", logging.Fields{"error": err.Error()})
			return
		}
		s.logger.Info(logCategoryCLI, "repository changed; snapshot invalidated", logging.Fields{
			"previous":   string(previous),
			"repository": repo.String(),
		})
	}
	if err := options.Set(repositoryMarkerKey, []byte(repo.String())); err != nil {
		s.logger.Warn(logCategoryCLI, "writing repository marker", logging.Fields{"error": err.Error()})
	}
}

// invalidateAll drops every instance's snapshot, e.g. after the credential changed.
func (s *session) invalidateAll() error {
	var errs []error
	for _, id := range s.instanceIDs() {
		snapshots := selfupdate.NewSnapshotStore(store.NewScoped(s.kv, "instance/"+id))
		if err := snapshots.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *session) userAgent() string {
	if s.cfg.HTTP.UserAgent != "" {
		return s.cfg.HTTP.UserAgent
	}
	return "upkeep/" + Version
}

// newLimiter paces API requests; zero disables pacing.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
}
