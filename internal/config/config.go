package config

import "time"

// EngineConfig is the top-level configuration for the realtime sync engine.
type EngineConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Backend       BackendConfig       `yaml:"backend"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Archive       ArchiveConfig       `yaml:"archive"`
}

// InstanceConfig identifies this client instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BackendConfig holds realtime backend settings.
type BackendConfig struct {
	WSURL string `yaml:"ws_url"`
	Token string `yaml:"token"` // Session token; usually supplied via ${VAR}
}

// ConnectionConfig holds transport and reconnection settings.
type ConnectionConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	BufferSize           int           `yaml:"buffer_size"`
}

// NotificationsConfig holds notification center settings.
type NotificationsConfig struct {
	MaxStored   int               `yaml:"max_stored"`
	Preferences PreferencesConfig `yaml:"preferences"`
}

// PreferencesConfig gates external delivery channels.
type PreferencesConfig struct {
	Email      bool `yaml:"email"`
	SMS        bool `yaml:"sms"`
	Push       bool `yaml:"push"`
	QuietStart int  `yaml:"quiet_start"` // Local hour 0-23; equal start/end disables
	QuietEnd   int  `yaml:"quiet_end"`
}

// ArchiveConfig holds the optional event archiver settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Postgres      DBConfig      `yaml:"postgres"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
