// Package config implements the hierarchical, validated configuration
// described in spec.md §9: an immutable record built by a single loader
// that deep-merges a user document over packaged defaults, resolves
// "*_file" indirection, and validates cross-field invariants up front so
// the process fails fast with a precise error kind rather than failing
// lazily the first time a misconfigured section is used.
package config

import "time"

type Config struct {
	Google      GoogleConfig
	Email       EmailConfig
	Logging     LoggingConfig
	ImageExport ImageExportConfig
	StatsExport StatsExportConfig
	Automation  AutomationConfig
	Compute     ComputeConfig
}

type GoogleConfig struct {
	CredentialsFile string `toml:"credentials_file"`
}

// ComputeConfig points at the external geospatial compute service this
// client talks to; not itself part of the distilled configuration schema,
// added so the remote-task adapter has somewhere to read its endpoint from.
type ComputeConfig struct {
	BaseURL string `toml:"base_url"`
}

type EmailConfig struct {
	EnableEmail bool     `toml:"enable_email"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	User        string   `toml:"user"`
	UserFile    string   `toml:"user_file"`
	Password    string   `toml:"password"`
	PasswordFile string  `toml:"password_file"`
	FromAddress string   `toml:"from_address"`
	ToAddress   []string `toml:"to_address"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	Encoding   string `toml:"encoding"`
	Format     string `toml:"format"`
	DateFormat string `toml:"date_format"`
}

type ImageExportConfig struct {
	AOIAssetPath          string        `toml:"aoi_asset_path"`
	DEMAssetPath          string        `toml:"dem_asset_path"`
	MonthlyCollectionPath string        `toml:"monthly_collection_path"`
	MonthlyImagePrefix    string        `toml:"monthly_image_prefix"`
	MonthsList            []string      `toml:"months_list"`
	MinMonth              string        `toml:"min_month"`
	MaxExports            int           `toml:"max_exports"`
	TaskDeadline          time.Duration `toml:"task_deadline"`
}

type ExportTarget string

const (
	ExportTargetDrive   ExportTarget = "drive"
	ExportTargetGEE     ExportTarget = "gee"
	ExportTargetStorage ExportTarget = "storage"
)

type StatsExportConfig struct {
	ExportTarget       ExportTarget  `toml:"export_target"`
	StorageBucket      string        `toml:"storage_bucket"`
	BaseExportPath     string        `toml:"base_export_path"`
	BasinCodes         []string      `toml:"basin_codes"`
	ExcludeBasinCodes  []string      `toml:"exclude_basin_codes"`
	MaxExports         int           `toml:"max_exports"`
	CommonTblPrePrefix string        `toml:"common_tbl_pre_prefix"`
	ManifestSource     string        `toml:"manifest_source"`
	ManifestPath       string        `toml:"manifest_path"`
	SkipManifest       bool          `toml:"skip_manifest"`
	TaskDeadline       time.Duration `toml:"task_deadline"`
}

type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

type DBConfig struct {
	Type         DBType `toml:"type"`
	DBPath       string `toml:"db_path"`
	DBName       string `toml:"db_name"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	UserFile     string `toml:"user_file"`
	Password     string `toml:"password"`
	PasswordFile string `toml:"password_file"`
}

type DailyJobConfig struct {
	Cron string `toml:"cron"`
}

type OrchestrationJobConfig struct {
	IntervalMinutes int `toml:"interval_minutes"`
}

type GitHubAppConfig struct {
	RepoURL        string `toml:"repo_url"`
	AppID          string `toml:"app_id"`
	PrivateKeyPath string `toml:"private_key_path"`
}

type WebsiteConfig struct {
	GitHub              GitHubAppConfig `toml:"github"`
	GCSBaseAssetsPath   string          `toml:"gcs_base_assets_path"`
	LocalRepoPath       string          `toml:"local_repo_path"`
	RepoBaseAssetsPath  string          `toml:"repo_base_assets_path"`
	WorkBranch          string          `toml:"work_branch"`
	MainBranch          string          `toml:"main_branch"`
}

type HeartbeatConfig struct {
	HeartbeatFile string `toml:"heartbeat_file"`
}

type AutomationConfig struct {
	Timezone         string                 `toml:"timezone"`
	DB               DBConfig               `toml:"db"`
	DailyJob         DailyJobConfig         `toml:"daily_job"`
	OrchestrationJob OrchestrationJobConfig `toml:"orchestration_job"`
	Website          WebsiteConfig          `toml:"website"`
	Heartbeat        HeartbeatConfig        `toml:"heartbeat"`
}

// Default returns the packaged default document, merged under any
// user-supplied TOML by Load.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "INFO",
			Encoding:   "console",
			Format:     "%(asctime)s %(levelname)s %(name)s: %(message)s",
			DateFormat: "2006-01-02 15:04:05",
		},
		ImageExport: ImageExportConfig{
			MonthlyImagePrefix: "MonthlySnow",
			MaxExports:         50,
		},
		StatsExport: StatsExportConfig{
			ExportTarget: ExportTargetStorage,
			MaxExports:   50,
		},
		Automation: AutomationConfig{
			Timezone: "UTC",
			DB: DBConfig{
				Type:   DBTypeSQLite,
				DBPath: "./data",
				DBName: "observatorio_ipa.db",
			},
			DailyJob: DailyJobConfig{Cron: "0 2 * * *"},
			OrchestrationJob: OrchestrationJobConfig{
				IntervalMinutes: 3,
			},
			Website: WebsiteConfig{
				WorkBranch: "automated-stats-update",
				MainBranch: "main",
			},
			Heartbeat: HeartbeatConfig{
				HeartbeatFile: "./data/heartbeat.txt",
			},
		},
	}
}
