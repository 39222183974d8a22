package config

const (
	defaultConfigPath           = "~/.config/downnest/config.toml"
	defaultStateDir             = "~/.local/share/downnest"
	defaultLogDir               = "~/.local/share/downnest/logs"
	defaultUsersRoot            = "/home"
	defaultDownloadsFolder      = "Downloads"
	defaultRequiredStableReads  = 3
	defaultPollIntervalMillis   = 500
	defaultSettleDelaySeconds   = 30
	defaultCollisionPolicy      = CollisionSuffix
	defaultFallbackCategory     = "Others"
	defaultNotifyRequestTimeout = 10
	defaultNotifyRatePerMinute  = 30
	defaultNotifyBurst          = 5
	defaultHistoryRetentionDays = 90
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultNtfyTopicEnvVar      = "DOWNNEST_NTFY_TOPIC"
	defaultMetricsBindEnvVar    = "DOWNNEST_METRICS_BIND"
)

// Collision policies for a destination name that is already taken.
const (
	CollisionSuffix = "suffix"
	CollisionFail   = "fail"
)

// DefaultCategories returns the built-in category table in routing order.
func DefaultCategories() []Category {
	return []Category{
		{Name: "Documents", Extensions: []string{".pdf", ".docx", ".txt", ".pptx", ".xls", ".xlsx"}},
		{Name: "Images", Extensions: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg"}},
		{Name: "Videos", Extensions: []string{".mp4", ".avi", ".mov", ".mkv"}},
		{Name: "Music", Extensions: []string{".mp3", ".wav", ".aac", ".flac"}},
		{Name: "Archives", Extensions: []string{".zip", ".rar", ".7z", ".tar", ".gz"}},
		{Name: "Installers", Extensions: []string{".exe", ".msi"}},
		{Name: "Code", Extensions: []string{".py", ".js", ".html", ".css", ".cpp", ".c", ".java"}},
	}
}

// DefaultTempExtensions returns the browser partial-download suffixes that are never routed.
func DefaultTempExtensions() []string {
	return []string{".crdownload", ".part", ".download"}
}

// Default returns a Config populated with repository defaults. Category and
// temp-extension tables are left empty so a config file replaces them wholesale;
// normalize fills them when nothing was supplied.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Watch: Watch{
			DiscoverUserDownloads: true,
			UsersRoot:             defaultUsersRoot,
			DownloadsFolder:       defaultDownloadsFolder,
			HotplugRescan:         false,
		},
		Routing: Routing{
			RequiredStableReads: defaultRequiredStableReads,
			PollIntervalMillis:  defaultPollIntervalMillis,
			SettleDelaySeconds:  defaultSettleDelaySeconds,
			CollisionPolicy:     defaultCollisionPolicy,
		},
		Classification: Classification{
			Fallback: defaultFallbackCategory,
		},
		Sweep: Sweep{
			Enabled: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RatePerMinute:  defaultNotifyRatePerMinute,
			Burst:          defaultNotifyBurst,
			Failures:       true,
			SweepSummary:   true,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
