package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/spf13/viper"
)

var cfg Config
var home = os.Getenv("HOME")

func getViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("gpucloud_config")
	v.SetConfigType("json")
	v.AddConfigPath(".")               // config file reading order starts with current working directory
	v.AddConfigPath("$HOME/.gpucloud") // then home directory
	v.AddConfigPath("/etc/gpucloud/")  // finally /etc/gpucloud
	return v
}

func setDefaultConfig() *viper.Viper {
	v := getViper()
	v.SetDefault("general.debug", false)
	v.SetDefault("rest.port", 8000)
	v.SetDefault("rest.allow_origins", []string{"http://localhost:5000"})
	v.SetDefault("database.path", "/etc/gpucloud/gpucloud.db")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("oauth.client_id", os.Getenv("GOOGLE_OAUTH_CLIENT_ID"))
	v.SetDefault("oauth.client_secret", os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"))
	v.SetDefault("oauth.redirect_uri", "http://localhost:5000/api/v1/auth/callback")
	v.SetDefault("oauth.jwt_secret", os.Getenv("JWT_SECRET_KEY"))
	v.SetDefault("oauth.token_expiry", 30)
	v.SetDefault("dispatch.poll_interval", 5)
	v.SetDefault("dispatch.sweep_cron", "")
	v.SetDefault("dispatch.batch_size", 20)
	return v
}

func LoadConfig() {
	paths := []string{
		".",
		home + "/.gpucloud",
		"/etc/gpucloud",
	}
	configFile := "gpucloud_config.json"
	v := setDefaultConfig()

	config, err := findConfig(paths, configFile)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
		return
	}

	modifiedConfig := removeComments(config)
	if err = v.ReadConfig(bytes.NewBuffer(modifiedConfig)); err != nil { // Viper only reads buffer, keeping comments in original config
		setDefaultConfig().Unmarshal(&cfg)
		return
	}

	if err = v.Unmarshal(&cfg); err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
}

func SetConfig(key string, value interface{}) {
	v := getViper()
	v.Set(key, value)
	err := v.Unmarshal(&cfg)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
}

func GetConfig() *Config {
	if reflect.DeepEqual(cfg, Config{}) {
		LoadConfig()
	}
	return &cfg
}

func findConfig(paths []string, filename string) ([]byte, error) {
	for _, path := range paths {
		fullPath := filepath.Join(path, filename)
		_, err := os.Stat(fullPath)
		if err == nil {
			config, err := os.ReadFile(fullPath)
			if err == nil {
				return config, nil
			} else {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("file not found in any of the paths")
}

func removeComments(configBytes []byte) []byte {
	re := regexp.MustCompile("(?s)//.*?\n") // match all '//' until the end of the line
	result := re.ReplaceAll(configBytes, nil)
	return result
}
