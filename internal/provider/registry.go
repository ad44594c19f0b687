package provider

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config is the per-provider configuration block.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	UserAgent string        `mapstructure:"user_agent"`
	Requests  int           `mapstructure:"requests"`
	Window    time.Duration `mapstructure:"window"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// Static provider only.
	FixedPrice decimal.Decimal `mapstructure:"fixed_price"`
	Currency   string          `mapstructure:"currency"`
}

// Deps are the process resources handed to each provider instance.
type Deps struct {
	Logger     zerolog.Logger
	Clock      Clock
	HTTPClient *http.Client
}

// Factory builds one provider instance.
type Factory func(name string, cfg Config, deps Deps) (Provider, error)

// Registry maps provider ids to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("amadeus", NewAmadeus)
	r.Register("booking", NewBooking)
	r.Register("skyscanner", NewSkyscanner)
	r.Register("expedia", NewExpedia)
	r.Register("static", NewStatic)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(id string, factory Factory) {
	r.factories[id] = factory
}

// IDs lists the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build constructs a fresh instance for every enabled entry. Each instance owns
// its own limiter state.
func (r *Registry) Build(cfgs map[string]Config, deps Deps) ([]Provider, error) {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}

	names := make([]string, 0, len(cfgs))
	for name, cfg := range cfgs {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		p, err := factory(name, cfgs[name], deps)
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
