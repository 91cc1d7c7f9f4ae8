package config

import "strings"

// keySpec ties a config key to its environment variable. Durations are extracted as
// strings so that ShowAll and the YAML file render them the way users write them.
// List keys take comma-separated values from the environment and from SetKey.
type keySpec struct {
	key     string
	env     string
	list    bool
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.addr", env: "INTERVIEWD_SERVER_ADDR",
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "server.allowed_origins", env: "INTERVIEWD_SERVER_ALLOWED_ORIGINS", list: true,
		extract: func(cfg Config) any { return cfg.Server.AllowedOrigins },
	},
	{
		key: "storage.data_dir", env: "INTERVIEWD_STORAGE_DATA_DIR",
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", env: "INTERVIEWD_LOG_LEVEL",
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", env: "INTERVIEWD_LOG_FORMAT",
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "session.send_queue", env: "INTERVIEWD_SESSION_SEND_QUEUE",
		extract: func(cfg Config) any { return cfg.Session.SendQueue },
	},
	{
		key: "session.sweep_interval", env: "INTERVIEWD_SESSION_SWEEP_INTERVAL",
		extract: func(cfg Config) any { return cfg.Session.SweepInterval.String() },
	},
	{
		key: "auth.cookie_name", env: "INTERVIEWD_AUTH_COOKIE_NAME",
		extract: func(cfg Config) any { return cfg.Auth.CookieName },
	},
	{
		key: "auth.cookie_max_age", env: "INTERVIEWD_AUTH_COOKIE_MAX_AGE",
		extract: func(cfg Config) any { return cfg.Auth.CookieMaxAge.String() },
	},
	{
		key: "telemetry.enabled", env: "INTERVIEWD_TELEMETRY_ENABLED",
		extract: func(cfg Config) any { return cfg.Telemetry.Enabled },
	},
	{
		key: "telemetry.service_name", env: "INTERVIEWD_TELEMETRY_SERVICE_NAME",
		extract: func(cfg Config) any { return cfg.Telemetry.ServiceName },
	},
	{
		key: "mcp.owner", env: "INTERVIEWD_MCP_OWNER",
		extract: func(cfg Config) any { return cfg.MCP.Owner },
	},
}

var envSpecs = func() map[string]keySpec {
	m := make(map[string]keySpec, len(specs))
	for _, s := range specs {
		m[s.env] = s
	}
	return m
}()

// envValue maps a known environment variable to its config key and parsed value.
// Unknown variables map to "" so the env provider skips them.
func envValue(name, value string) (string, any) {
	s, ok := envSpecs[name]
	if !ok {
		return "", nil
	}
	return s.key, s.parse(value)
}

// parse converts a raw string value for s, splitting list keys on commas.
func (s keySpec) parse(raw string) any {
	if !s.list {
		return raw
	}
	items := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	return items
}
