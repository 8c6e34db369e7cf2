package config

import "time"

type AppConfig struct {
	DBDriver   string           `yaml:"db_driver" env:"TAKEDOWN_DB_DRIVER" env-default:"sqlite"`
	DBURL      string           `yaml:"db_url" env:"TAKEDOWN_DB_URL" env-default:"data/takedown.db"`
	ListenAddr string           `yaml:"listen_addr" env:"TAKEDOWN_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv     string           `yaml:"app_env" env:"TAKEDOWN_APP_ENV"`
	API        APIConfig        `yaml:"api"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Automation AutomationConfig `yaml:"automation"`
}

type APIConfig struct {
	// SubmitRateLimit caps case submissions per actor per window; zero or
	// negative disables the limiter.
	SubmitRateLimit  int           `yaml:"submit_rate_limit" env:"TAKEDOWN_API_SUBMIT_RATE_LIMIT" env-default:"10"`
	SubmitRateWindow time.Duration `yaml:"submit_rate_window" env:"TAKEDOWN_API_SUBMIT_RATE_WINDOW" env-default:"1m"`
}

type BootstrapConfig struct {
	// AdminEmail, when set, is seeded as an admin account on startup if no
	// user with that email exists yet.
	AdminEmail string `yaml:"admin_email" env:"TAKEDOWN_BOOTSTRAP_ADMIN_EMAIL"`
}

type WorkflowConfig struct {
	// DefaultAssignee takes unassigned IN_REVIEW cases when no active
	// officer is available to pick.
	DefaultAssignee string `yaml:"default_assignee" env:"TAKEDOWN_WORKFLOW_DEFAULT_ASSIGNEE"`
}

type AutomationConfig struct {
	Enabled bool `yaml:"enabled" env:"TAKEDOWN_AUTOMATION_ENABLED" env-default:"true"`
	// SweepSpec and AssignSpec are cron specs (robfig/cron, @every supported).
	SweepSpec  string `yaml:"sweep_spec" env:"TAKEDOWN_AUTOMATION_SWEEP_SPEC" env-default:"@every 30m"`
	AssignSpec string `yaml:"assign_spec" env:"TAKEDOWN_AUTOMATION_ASSIGN_SPEC" env-default:"@every 1h"`
	// SweepTimeout bounds a single sweep invocation.
	SweepTimeout time.Duration `yaml:"sweep_timeout" env:"TAKEDOWN_AUTOMATION_SWEEP_TIMEOUT" env-default:"5m"`
}
