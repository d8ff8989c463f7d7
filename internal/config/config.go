package config

type Config struct {
	General  `mapstructure:"general"`
	Rest     `mapstructure:"rest"`
	Database `mapstructure:"database"`
	Redis    `mapstructure:"redis"`
	OAuth    `mapstructure:"oauth"`
	Dispatch `mapstructure:"dispatch"`
}

type General struct {
	Debug bool `mapstructure:"debug"`
}

type Rest struct {
	Port         int      `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type Database struct {
	Path string `mapstructure:"path"`
}

type Redis struct {
	URL string `mapstructure:"url"`
}

type OAuth struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	TokenExpiry  int    `mapstructure:"token_expiry"` // in minutes
}

type Dispatch struct {
	PollInterval int    `mapstructure:"poll_interval"` // in seconds
	SweepCron    string `mapstructure:"sweep_cron"`
	BatchSize    int    `mapstructure:"batch_size"` // max records placed per tick
}
