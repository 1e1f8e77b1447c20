package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dunamismax/pixelfolio/internal/domain"
)

type Config struct {
	Site      SiteConfig               `yaml:"site"`
	Build     BuildConfig              `yaml:"build"`
	Policies  map[string]domain.Policy `yaml:"policies"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Notify    NotifyConfig             `yaml:"notify"`
}

type SiteConfig struct {
	Title       string   `yaml:"title"`
	Brand       string   `yaml:"brand"`
	Heading     string   `yaml:"heading"`
	Subheading  string   `yaml:"subheading"`
	Footer      string   `yaml:"footer"`
	Stylesheets []string `yaml:"stylesheets"`
}

type BuildConfig struct {
	Strict           bool     `yaml:"strict"`
	Root             string   `yaml:"root"`
	ResizedDir       string   `yaml:"resized_dir"`
	ImageExtensions  []string `yaml:"image_extensions"`
	GalleryPolicy    string   `yaml:"gallery_policy"`
	CoverPolicy      string   `yaml:"cover_policy"`
	RelatedLimit     int      `yaml:"related_limit"`
	ThumbnailLimit   int      `yaml:"thumbnail_limit"`
	DescriptionLimit int      `yaml:"description_limit"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type MetricsConfig struct {
	File string `yaml:"file"`
}

// NotifyConfig enables a signed build.completed webhook after each build.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Default returns the configuration the generator runs with when no file is
// given. Policy geometry matches the layouts the site templates expect.
func Default() Config {
	return Config{
		Site: SiteConfig{
			Title:      "Portfolio",
			Brand:      "Portfolio",
			Heading:    "Our Portfolio",
			Subheading: "Discover our innovative solutions across various domains",
		},
		Build: BuildConfig{
			Strict:           true,
			ResizedDir:       "resized",
			ImageExtensions:  []string{".png", ".jpg", ".jpeg", ".webp"},
			GalleryPolicy:    "gallery",
			CoverPolicy:      "optimized",
			RelatedLimit:     3,
			ThumbnailLimit:   4,
			DescriptionLimit: 100,
		},
		Policies: map[string]domain.Policy{
			"gallery": {
				Mode:       domain.ModePadWithThumbnailBox,
				Width:      816,
				Height:     582,
				Padding:    10,
				Background: "#ffffff",
				Format:     domain.FormatJPEG,
				Quality:    95,
				Prefix:     "resized_",
			},
			"listing": {
				Mode:         domain.ModePadToRatio,
				Width:        800,
				Height:       600,
				AspectWidth:  4,
				AspectHeight: 3,
				Background:   "#f8f9fa",
				Format:       domain.FormatJPEG,
				Quality:      95,
			},
			"card": {
				Mode:       domain.ModeFitAndPad,
				Width:      800,
				Height:     600,
				Background: "#ffffff",
				Format:     domain.FormatJPEG,
				Quality:    95,
			},
			"optimized": {
				Mode:         domain.ModeFitOnly,
				MaxDimension: 1200,
				Format:       domain.FormatWEBP,
				Quality:      85,
				Prefix:       "optimized_",
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pixelfolio",
			Exporter:    "none",
		},
		Notify: NotifyConfig{
			TimeoutSeconds: 10,
		},
	}
}

// Load reads an optional YAML file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	for name, p := range cfg.Policies {
		p.Name = name
		p.Format = domain.NormalizeFormat(p.Format)
		cfg.Policies[name] = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Telemetry.Exporter = env("PIXELFOLIO_TRACE_EXPORTER", c.Telemetry.Exporter)
	c.Telemetry.OTLPEndpoint = env("PIXELFOLIO_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.OTLPInsecure = envBool("PIXELFOLIO_OTLP_INSECURE", c.Telemetry.OTLPInsecure)
	c.Metrics.File = env("PIXELFOLIO_METRICS_FILE", c.Metrics.File)
	c.Build.RelatedLimit = envInt("PIXELFOLIO_RELATED_LIMIT", c.Build.RelatedLimit)
	c.Notify.WebhookURL = env("PIXELFOLIO_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.WebhookSecret = env("PIXELFOLIO_WEBHOOK_SECRET", c.Notify.WebhookSecret)
	c.Notify.TimeoutSeconds = envInt("PIXELFOLIO_WEBHOOK_TIMEOUT_SECONDS", c.Notify.TimeoutSeconds)
}

func (c Config) Validate() error {
	if len(c.Policies) == 0 {
		return fmt.Errorf("at least one policy is required")
	}
	for _, name := range c.PolicyNames() {
		if err := c.Policies[name].Validate(); err != nil {
			return err
		}
	}
	if _, err := c.Policy(c.Build.GalleryPolicy); err != nil {
		return fmt.Errorf("build.gallery_policy: %w", err)
	}
	if _, err := c.Policy(c.Build.CoverPolicy); err != nil {
		return fmt.Errorf("build.cover_policy: %w", err)
	}
	if strings.TrimSpace(c.Build.ResizedDir) == "" || strings.ContainsAny(c.Build.ResizedDir, `/\`) {
		return fmt.Errorf("build.resized_dir must be a plain directory name")
	}
	if c.Build.RelatedLimit < 0 || c.Build.ThumbnailLimit < 0 || c.Build.DescriptionLimit < 0 {
		return fmt.Errorf("build limits must not be negative")
	}
	if url := strings.TrimSpace(c.Notify.WebhookURL); url != "" &&
		!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("notify.webhook_url must be an http(s) URL")
	}
	return nil
}

func (c Config) Policy(name string) (domain.Policy, error) {
	p, ok := c.Policies[name]
	if !ok {
		return domain.Policy{}, fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, name)
	}
	p.Name = name
	return p, nil
}

func (c Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
