package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads the config file whenever it changes on disk and passes the
// result to onChange. A config that fails to load or validate is reported
// through err; cfg is nil in that case.
func Watch(onChange func(path string, cfg *Config, err error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load()
		onChange(e.Name, cfg, err)
	})
	viper.WatchConfig()
}
