package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/orcherrors"
)

// Load reads the TOML document at path, deep-merges it over Default(),
// applies environment overrides ("IPA_" prefixed, per spec §6), resolves
// "*_file" indirection, and validates cross-field invariants. Any problem
// here is a fatal ConfigError: the scheduler never starts on a bad
// configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("IPA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Register every default key with viper first, so an "IPA_" override
	// works even for a field the user's own config file never mentions;
	// the file (if any) is then merged on top of those defaults.
	defaultRaw, err := toml.Marshal(cfg)
	if err != nil {
		return nil, orcherrors.Config("marshaling default config", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaultRaw)); err != nil {
		return nil, orcherrors.Config("loading default config", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, orcherrors.Config("reading config file "+path, err)
		}
		if err := v.MergeConfig(bytes.NewReader(raw)); err != nil {
			return nil, orcherrors.Config("parsing config file "+path, err)
		}
	}

	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, orcherrors.Config("applying configuration and environment overrides", err)
	}

	if err := resolveFileIndirection(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveFileIndirection reads any configured "*_file" path and populates
// the corresponding plain field, per spec §9's "value-from-file
// indirection" note. A field may not be set both ways at once.
func resolveFileIndirection(cfg *Config) error {
	resolved, err := resolveOne("email.user", cfg.Email.User, cfg.Email.UserFile)
	if err != nil {
		return err
	}
	cfg.Email.User = resolved

	resolved, err = resolveOne("email.password", cfg.Email.Password, cfg.Email.PasswordFile)
	if err != nil {
		return err
	}
	cfg.Email.Password = resolved

	resolved, err = resolveOne("automation.db.user", cfg.Automation.DB.User, cfg.Automation.DB.UserFile)
	if err != nil {
		return err
	}
	cfg.Automation.DB.User = resolved

	resolved, err = resolveOne("automation.db.password", cfg.Automation.DB.Password, cfg.Automation.DB.PasswordFile)
	if err != nil {
		return err
	}
	cfg.Automation.DB.Password = resolved

	return nil
}

func resolveOne(field, literal, filePath string) (string, error) {
	if literal != "" && filePath != "" {
		return "", orcherrors.Config(field+" and "+field+"_file are both set; set exactly one", nil)
	}
	if filePath == "" {
		return literal, nil
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return "", orcherrors.Config("reading "+field+"_file at "+filePath, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Automation.Timezone); err != nil {
		return orcherrors.Config("invalid automation.timezone "+cfg.Automation.Timezone, err)
	}

	if cfg.Automation.DailyJob.Cron == "" {
		return orcherrors.Config("automation.daily_job.cron must not be empty", nil)
	}

	if cfg.Automation.OrchestrationJob.IntervalMinutes <= 0 {
		return orcherrors.Config("automation.orchestration_job.interval_minutes must be positive", nil)
	}

	switch cfg.Automation.DB.Type {
	case DBTypeSQLite:
		if cfg.Automation.DB.DBName == "" {
			return orcherrors.Config("automation.db.db_name must be set for sqlite", nil)
		}
	case DBTypePostgres:
		if cfg.Automation.DB.Host == "" || cfg.Automation.DB.User == "" || cfg.Automation.DB.DBName == "" {
			return orcherrors.Config("automation.db requires host, user, db_name for postgres", nil)
		}
	default:
		return orcherrors.Config("unknown automation.db.type "+string(cfg.Automation.DB.Type), nil)
	}

	if cfg.Email.EnableEmail {
		missing := []string{}
		if cfg.Email.Host == "" {
			missing = append(missing, "host")
		}
		if cfg.Email.User == "" {
			missing = append(missing, "user")
		}
		if cfg.Email.Password == "" {
			missing = append(missing, "password")
		}
		if cfg.Email.FromAddress == "" {
			missing = append(missing, "from_address")
		}
		if len(cfg.Email.ToAddress) == 0 {
			missing = append(missing, "to_address")
		}
		if len(missing) > 0 {
			return orcherrors.Config("email.enable_email is true but missing: "+strings.Join(missing, ", "), nil)
		}
	}

	if cfg.Google.CredentialsFile == "" {
		return orcherrors.Config("google.credentials_file must be set", nil)
	}

	gh := cfg.Automation.Website.GitHub
	if gh.RepoURL == "" || gh.AppID == "" || gh.PrivateKeyPath == "" {
		return orcherrors.Config("automation.website.github requires repo_url, app_id, private_key_path", nil)
	}

	return nil
}
