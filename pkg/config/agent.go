package config

import "time"

// AgentOptions is the kubedoor-agent process configuration.
type AgentOptions struct {
	Env string `validate:"required"` // the cluster/environment identifier this agent reports as

	CoordinatorURL string `validate:"required"` // ws(s)://host:port/ws path the agent dials

	WebhookListenAddr string
	WebhookCertFile   string
	WebhookKeyFile    string

	NodeLabelValue string

	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	AdmissionTimeout  time.Duration

	KubeconfigPath string // empty means in-cluster config
}

func LoadAgentOptions() AgentOptions {
	return AgentOptions{
		Env:            WithDefaultString("KUBEDOOR_ENV", ""),
		CoordinatorURL: WithDefaultString("COORDINATOR_URL", ""),

		WebhookListenAddr: WithDefaultString("WEBHOOK_LISTEN_ADDR", ":8443"),
		WebhookCertFile:   WithDefaultString("WEBHOOK_CERT_FILE", "/etc/kubedoor/tls/tls.crt"),
		WebhookKeyFile:    WithDefaultString("WEBHOOK_KEY_FILE", "/etc/kubedoor/tls/tls.key"),

		NodeLabelValue: WithDefaultString("NODE_LABEL_VALUE", "FIXED_VALUE"),

		HeartbeatInterval: WithDefaultDuration("HEARTBEAT_INTERVAL", 4*time.Second),
		DialTimeout:       WithDefaultDuration("DIAL_TIMEOUT", 10*time.Second),
		AdmissionTimeout:  WithDefaultDuration("ADMISSION_TIMEOUT", 10*time.Second),

		KubeconfigPath: WithDefaultString("KUBECONFIG", ""),
	}
}
