package experiment

import (
	"fmt"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
)

// Weather presets accepted by the simulation backend.
const (
	WeatherClear  = "clear"
	WeatherRain   = "rain"
	WeatherFog    = "fog"
	WeatherSunset = "sunset"
)

// Scenario describes the simulated world for one run.
type Scenario struct {
	// Route names the map route driven during the run.
	Route string `json:"route"`

	// Weather is one of the Weather presets; empty means clear.
	Weather string `json:"weather,omitempty"`

	// TrafficDensity is the number of background vehicles, 0..200.
	TrafficDensity int `json:"traffic_density"`

	// Sensors lists the sensor suite to attach. Empty means the
	// backend default.
	Sensors []string `json:"sensors,omitempty"`

	// TimeBudget bounds the Execution phase. A zero budget is already
	// spent: the run records no steps and proceeds straight to result
	// processing.
	TimeBudget time.Duration `json:"time_budget"`
}

// Model describes the decision model driving the run.
type Model struct {
	// Checkpoint is a reference to the model weights to load.
	Checkpoint string `json:"checkpoint"`

	// Deterministic disables action sampling when true.
	Deterministic bool `json:"deterministic,omitempty"`
}

// Config is the caller-supplied description of an experiment.
type Config struct {
	Name     string   `json:"name"`
	Scenario Scenario `json:"scenario"`
	Model    Model    `json:"model"`
	Seed     int64    `json:"seed,omitempty"`
}

// Validate checks the config without side effects. All violations wrap
// cardream.ErrInvalidConfig so callers can classify with errors.Is.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", cardream.ErrInvalidConfig)
	}
	if c.Scenario.Route == "" {
		return fmt.Errorf("%w: scenario route is required", cardream.ErrInvalidConfig)
	}
	if c.Scenario.TrafficDensity < 0 || c.Scenario.TrafficDensity > 200 {
		return fmt.Errorf("%w: traffic density %d out of range [0,200]",
			cardream.ErrInvalidConfig, c.Scenario.TrafficDensity)
	}
	if c.Scenario.TimeBudget < 0 {
		return fmt.Errorf("%w: negative time budget", cardream.ErrInvalidConfig)
	}
	switch c.Scenario.Weather {
	case "", WeatherClear, WeatherRain, WeatherFog, WeatherSunset:
	default:
		return fmt.Errorf("%w: unknown weather preset %q",
			cardream.ErrInvalidConfig, c.Scenario.Weather)
	}
	if c.Model.Checkpoint == "" {
		return fmt.Errorf("%w: model checkpoint is required", cardream.ErrInvalidConfig)
	}
	return nil
}
