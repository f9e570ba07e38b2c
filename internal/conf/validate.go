package conf

import (
	"fmt"
	"net/url"
)

// ValidateSettings checks the loaded settings for obvious misconfiguration.
func ValidateSettings(settings *Settings) error {
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		return fmt.Errorf("only one database output can be enabled at a time")
	}
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return fmt.Errorf("at least one database output must be enabled")
	}

	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker must be set when MQTT is enabled")
		}
		if _, err := url.Parse(settings.MQTT.Broker); err != nil {
			return fmt.Errorf("invalid mqtt.broker URL: %w", err)
		}
		if settings.MQTT.Namespace == "" {
			return fmt.Errorf("mqtt.namespace must be set when MQTT is enabled")
		}
	}

	if settings.Calendar.Enabled && settings.Calendar.CredentialsFile == "" {
		return fmt.Errorf("calendar.credentialsfile must be set when calendar sync is enabled")
	}

	if settings.Visit.TimeoutSeconds <= 0 {
		return fmt.Errorf("visit.timeoutseconds must be positive")
	}
	if settings.Visit.PendingWindowMinutes <= 0 {
		return fmt.Errorf("visit.pendingwindowminutes must be positive")
	}
	if settings.Sweeps.AutoMissSeconds <= 0 || settings.Sweeps.PresenceSeconds <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}

	return nil
}
