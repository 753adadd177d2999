package chatter

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/putto11262002/projectchat/core"
	"github.com/spf13/viper"
)

type Config struct {
	API struct {
		// BaseURL is the base URL of the chat HTTP API.
		BaseURL string `validate:"required,url"`
		// Timeout bounds every HTTP call. The default is 10s.
		Timeout time.Duration `validate:"gt=0"`
	}
	Stream struct {
		// URL is the websocket endpoint of the chat stream.
		URL string `validate:"required,url"`
		// ReconnectDelay is the fixed delay between reconnect attempts. The default is 5s.
		ReconnectDelay time.Duration `validate:"gt=0"`
	}
	Auth struct {
		// Token is the bearer token sent on both transports.
		Token string `validate:"required"`
	}
	// User overrides the identity carried by the token.
	User struct {
		ID   string
		Name string
	}
	Project struct {
		// ID is the project whose chat room is opened on start.
		ID string `validate:"required"`
	}
	Log struct {
		Level string `validate:"oneof=debug info warn error"`
	}
	Metrics struct {
		// Addr is the listen address of the /metrics endpoint. Metrics are not served when empty.
		Addr string `validate:"omitempty,hostname_port"`
	}
	valid bool
}

// LoadConfig loads the configuration from the config file, a .env file and
// environment variables, in increasing order of precedence.
// An empty file searches for config.yaml in the working directory.
// Missing files are not an error; a missing required value is caught in the validation step.
func LoadConfig(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.baseurl", "http://localhost:8080")
	v.SetDefault("api.timeout", core.DefaultHTTPTimeout)
	v.SetDefault("stream.url", "ws://localhost:8080/ws")
	v.SetDefault("stream.reconnectdelay", core.DefaultReconnectDelay)
	v.SetDefault("auth.token", "")
	v.SetDefault("user.id", "")
	v.SetDefault("user.name", "")
	v.SetDefault("project.id", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

// Identity resolves the local user from the token, overridden by the
// configured user id and name.
func (c *Config) Identity() (core.Identity, error) {
	identity, err := core.ParseIdentity(c.Auth.Token)
	if err != nil && c.User.ID == "" {
		return core.Identity{}, err
	}
	if c.User.ID != "" {
		identity.UserID = c.User.ID
	}
	if c.User.Name != "" {
		identity.UserName = c.User.Name
	}
	if identity.UserName == "" {
		identity.UserName = identity.UserID
	}
	return identity, nil
}

func FormatValidationErrors(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errs.Translate(trans)

	var sb strings.Builder
	for _, k := range slices.Sorted(maps.Keys(translated)) {
		sb.WriteString(translated[k])
		sb.WriteString("\n")
	}
	return sb.String()
}
