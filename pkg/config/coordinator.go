package config

import "time"

// CoordinatorOptions is the kubedoor-master process configuration, sourced
// from environment variables as spec.md §6 lists. DBHost/DBUser/DBPassword
// map to CK_HOST/CK_USER/CK_PASSWORD in the original Python
// (original_source/src/kubedoor-master/utils.py's ClickHouse client setup).
type CoordinatorOptions struct {
	ListenAddr string `validate:"required"`

	DBHost     string `validate:"required"`
	DBPort     int    `validate:"required"`
	DBUser     string `validate:"required"`
	DBPassword string
	DBName     string `validate:"required"`

	PromURL string `validate:"required"`

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RequestTimeout    time.Duration

	AlertRulesPath  string
	AlertDedupTTL   time.Duration
	NodeLabelValue  string
	HarvestDays     int
	PeakHourStart   string
	PeakHourEnd     string
	HarvestBatchCap int

	WecomWebhook   string
	DingdingWebhook string
	FeishuWebhook  string
	SlackWebhook   string

	// UpdateImageConfig is the raw JSON UPDATE_IMAGE authorization document
	// gating /api/update-image: {env|"default": {isOperationAllowed,
	// allowedOperationPeriod:"HH:MM-HH:MM", user:[...]}}. Empty disables the
	// endpoint for non-"rw" callers, matching utils.py's
	// os.environ.get('UPDATE_IMAGE') (utils.py:35).
	UpdateImageConfig string
}

func LoadCoordinatorOptions() CoordinatorOptions {
	return CoordinatorOptions{
		ListenAddr: WithDefaultString("LISTEN_ADDR", ":9999"),

		DBHost:     WithDefaultString("CK_HOST", ""),
		DBPort:     WithDefaultInt("CK_PORT", 9000),
		DBUser:     WithDefaultString("CK_USER", "default"),
		DBPassword: WithDefaultString("CK_PASSWORD", ""),
		DBName:     WithDefaultString("CK_DATABASE", "kubedoor"),

		PromURL: WithDefaultString("PROM_URL", ""),

		HeartbeatInterval: WithDefaultDuration("HEARTBEAT_INTERVAL", 4*time.Second),
		HeartbeatTimeout:  WithDefaultDuration("HEARTBEAT_TIMEOUT", 5*time.Second),
		RequestTimeout:    WithDefaultDuration("REQUEST_TIMEOUT", 120*time.Second),

		AlertRulesPath:  WithDefaultString("ALERT_RULES_PATH", "alert_rules.json"),
		AlertDedupTTL:   WithDefaultDuration("ALERT_DEDUP_WINDOW", 300*time.Second),
		NodeLabelValue:  WithDefaultString("NODE_LABEL_VALUE", "FIXED_VALUE"),
		HarvestDays:     WithDefaultInt("HARVEST_DAYS", 2),
		PeakHourStart:   WithDefaultString("PEAK_HOUR_START", "10:00:00"),
		PeakHourEnd:     WithDefaultString("PEAK_HOUR_END", "11:30:00"),
		HarvestBatchCap: WithDefaultInt("HARVEST_BATCH_SIZE", 10000),

		WecomWebhook:    WithDefaultString("WECOM_WEBHOOK", ""),
		DingdingWebhook: WithDefaultString("DINGDING_WEBHOOK", ""),
		FeishuWebhook:   WithDefaultString("FEISHU_WEBHOOK", ""),
		SlackWebhook:    WithDefaultString("SLACK_WEBHOOK", ""),

		UpdateImageConfig: WithDefaultString("UPDATE_IMAGE", ""),
	}
}
