package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their TOML key so messages match the file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describeValidation(err)
	}
	if err := c.validateRanges(); err != nil {
		return err
	}
	if err := c.validateCredentials(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRanges() error {
	r := c.Clustering.ClusterCountRange
	if r[0] < 2 || r[1] < r[0] {
		return fmt.Errorf("clustering.cluster_count_range must be [min, max] with 2 <= min <= max, got %v", r)
	}
	s := c.Classifier.MinSamplesSplitRange
	if s[0] < 2 || s[1] < s[0] {
		return fmt.Errorf("classifier.min_samples_split_range must be [min, max] with 2 <= min <= max, got %v", s)
	}
	return nil
}

func (c *Config) validateCredentials() error {
	cat := c.Catalog
	if cat.RefreshToken != "" && (cat.ClientID == "" || cat.ClientSecret == "") {
		return errors.New("catalog.refresh_token requires catalog.client_id and catalog.client_secret")
	}
	if cat.RefreshToken == "" && cat.AccessToken == "" && (cat.ClientID == "" || cat.ClientSecret == "") {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/encore/config.toml"
		}
		return fmt.Errorf("catalog credentials are required. Set %s (or %s, or %s and %s) or edit %s (create with 'encore config init')",
			EnvRefreshToken, EnvAccessToken, EnvClientID, EnvClientSecret, defaultPath)
	}
	if cat.RefreshToken == "" && cat.AccessToken == "" && c.Run.UserID == "" {
		return errors.New("run.user_id is required when only client credentials are configured")
	}
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
