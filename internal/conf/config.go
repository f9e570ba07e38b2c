// config.go: settings struct and functions to load the application settings.
package conf

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogConfig contains settings for a file log output.
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
}

// MQTTSettings contains settings for the device message bus.
type MQTTSettings struct {
	Enabled   bool   // true to enable the MQTT transport
	Broker    string // broker URL, e.g. tcp://localhost:1883
	Namespace string // first topic segment, e.g. "deskbell"
	Username  string // MQTT username
	Password  string // MQTT password
}

// CalendarSettings contains settings for the external calendar sync.
type CalendarSettings struct {
	Enabled         bool   // true to enable calendar sync
	CredentialsFile string // path to Google service account JSON
	SyncMinutes     int    // sync interval in minutes
	PastDays        int    // how far back to sync events
	FutureDays      int    // how far forward to sync events
}

// VisitSettings contains settings for the visit lifecycle.
type VisitSettings struct {
	TimeoutSeconds       int // pending visits auto-miss after this
	PendingWindowMinutes int // door-open correlation window
	BellDurationMs       int // doorbell bell activation duration
	BuzzDurationMs       int // buzzer activation duration
}

// SweepSettings contains intervals for the background sweeps.
type SweepSettings struct {
	AutoMissSeconds int // auto-miss sweep interval
	PresenceSeconds int // presence-change sweep interval
}

// DeviceSettings contains device liveness settings.
type DeviceSettings struct {
	OfflineAfterMinutes int // devices without a heartbeat for this long count as offline
}

// Settings contains all configuration options for DeskBell-Go.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string    // instance name, used as MQTT client id
		Log  LogConfig // main log settings
	}

	MQTT     MQTTSettings
	Calendar CalendarSettings
	Visit    VisitSettings
	Sweeps   SweepSettings
	Devices  DeviceSettings

	WebServer struct {
		Enabled bool   // true to enable the REST API server
		Port    string // port for HTTP server
		Log     LogConfig
	}

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable SQLite
			Path    string // path to SQLite database
		}
		MySQL struct {
			Enabled  bool   // true to enable MySQL
			Username string // MySQL username
			Password string // MySQL password
			Database string // MySQL database name
			Host     string // MySQL host
			Port     string // MySQL port
		}
	}
}

// VisitTimeout returns the configured auto-miss timeout as a duration.
func (s *Settings) VisitTimeout() time.Duration {
	return time.Duration(s.Visit.TimeoutSeconds) * time.Second
}

// PendingWindow returns the door-open correlation window as a duration.
func (s *Settings) PendingWindow() time.Duration {
	return time.Duration(s.Visit.PendingWindowMinutes) * time.Minute
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/deskbell-go")
	viper.AddConfigPath("/etc/deskbell-go")

	// Set default values for each configuration parameter,
	// function defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file, defaults apply
			log.Println("config file not found, using defaults")
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// Setting returns the current settings instance, loading it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("error loading settings: %v", err)
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
