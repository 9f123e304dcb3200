/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/gamebox/images"
	"github.com/Seednode/gamebox/memory"
	"github.com/Seednode/gamebox/weather"
)

type Config struct {
	bind           string
	db             string
	imageBase      string
	imageSources   string
	port           int
	prefix         string
	profile        bool
	resolveDelay   time.Duration
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	weatherCache    time.Duration
	weatherFallback string
	weatherFeed     string
	weatherRelays   []string
	weatherTimeout  time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.resolveDelay <= 0 || c.resolveDelay > 10*time.Second {
		return fmt.Errorf("invalid resolve delay (must be above 0s and at most 10s): %s", c.resolveDelay)
	}
	if c.imageBase == "" {
		return errors.New("--image-base must not be empty")
	}
	if len(c.weatherRelays) == 0 {
		return errors.New("at least one --weather-relay is required")
	}
	if c.weatherTimeout <= 0 {
		return fmt.Errorf("invalid weather timeout: %s", c.weatherTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// sources returns the configured image sources, or the defaults when no
// sources file was given.
func (c *Config) sources() ([]images.Source, error) {
	if c.imageSources == "" {
		return images.DefaultSources(), nil
	}

	return images.LoadSources(c.imageSources)
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("GAMEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "gamebox",
		Short:         "A handful of small picture games, served from a single webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: GAMEBOX_BIND)")
	fs.StringVar(&cfg.db, "db", "", "path to sqlite database for saved games; in-memory if empty (env: GAMEBOX_DB)")
	fs.StringVar(&cfg.imageBase, "image-base", images.DefaultBaseURL, "base URL for image listings and relative image paths (env: GAMEBOX_IMAGE_BASE)")
	fs.StringVar(&cfg.imageSources, "image-sources", "", "path to yaml file listing image sources (env: GAMEBOX_IMAGE_SOURCES)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: GAMEBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: GAMEBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: GAMEBOX_PROFILE)")
	fs.DurationVar(&cfg.resolveDelay, "resolve-delay", memory.DefaultResolveDelay, "time two flipped cards stay face up (env: GAMEBOX_RESOLVE_DELAY)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: GAMEBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: GAMEBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: GAMEBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: GAMEBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: GAMEBOX_VERSION)")
	fs.DurationVar(&cfg.weatherCache, "weather-cache", 10*time.Minute, "time a weather report is reused (env: GAMEBOX_WEATHER_CACHE)")
	fs.StringVar(&cfg.weatherFallback, "weather-fallback", images.DefaultBaseURL+"weather.json", "json weather report used when the feed is unavailable (env: GAMEBOX_WEATHER_FALLBACK)")
	fs.StringVar(&cfg.weatherFeed, "weather-feed", weather.DefaultFeedURL, "forecast rss feed (env: GAMEBOX_WEATHER_FEED)")
	fs.StringSliceVar(&cfg.weatherRelays, "weather-relay", weather.DefaultRelays(), "relay prefix for the forecast feed, tried in order (env: GAMEBOX_WEATHER_RELAY)")
	fs.DurationVar(&cfg.weatherTimeout, "weather-timeout", 10*time.Second, "timeout for each weather request (env: GAMEBOX_WEATHER_TIMEOUT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("gamebox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
