package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their config-file names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validation errors:\n  - %v", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen != "" {
			if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
				errs = append(errs, "metrics.listen must be host:port")
			}
		}
		if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}
	for _, id := range cfg.Discord.ChannelIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, "discord.channelIds must not contain empty entries")
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return path + " is required"
	case "oneof":
		return path + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return path + " must be >= " + fe.Param()
	case "lte":
		return path + " must be <= " + fe.Param()
	default:
		return fmt.Sprintf("%s failed %q validation", path, fe.Tag())
	}
}
