// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "DeskBell-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/deskbell.log")

	viper.SetDefault("mqtt.enabled", true)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.namespace", "deskbell")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")

	viper.SetDefault("calendar.enabled", false)
	viper.SetDefault("calendar.credentialsfile", "")
	viper.SetDefault("calendar.syncminutes", 15)
	viper.SetDefault("calendar.pastdays", 7)
	viper.SetDefault("calendar.futuredays", 30)

	viper.SetDefault("visit.timeoutseconds", 30)
	viper.SetDefault("visit.pendingwindowminutes", 5)
	viper.SetDefault("visit.belldurationms", 5000)
	viper.SetDefault("visit.buzzdurationms", 3000)

	viper.SetDefault("sweeps.automissseconds", 10)
	viper.SetDefault("sweeps.presenceseconds", 60)

	viper.SetDefault("devices.offlineafterminutes", 5)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.log.enabled", false)
	viper.SetDefault("webserver.log.path", "logs/webui.log")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "deskbell.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "deskbell")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "deskbell")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
