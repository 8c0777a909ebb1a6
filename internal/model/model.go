// Package model holds the domain entities shared across the ingestion
// pipeline, job manager, and query engine (spec §3).
//
// Hot-path entities (RawLog, Event, Flow, Endpoint) are read/written with
// hand-written SQL (internal/ingest, internal/query, internal/retention)
// and are plain structs here. The
// control-plane entities (Firewall, FirewallOverride, RouterMACRule,
// IngestJob, Setting) are additionally GORM models, mirroring the
// teacher's pkg/controlplane/models pattern: TableName() methods plus
// mapstructure tags for config/JSON interop.
package model

import "time"

// EventKind is the kind of a reconstructed event row.
type EventKind string

const (
	EventOpen  EventKind = "open"
	EventClose EventKind = "close"
)

// RecordKind is the kind of a parsed syslog record (spec §4.1).
type RecordKind string

const (
	RecordKindConn   RecordKind = "CONN"
	RecordKindDevice RecordKind = "DEVICE"
	RecordKindOther  RecordKind = "other"
)

// ConnAction is the conn= field of a CONN record.
type ConnAction string

const (
	ConnOpen    ConnAction = "open"
	ConnClose   ConnAction = "close"
	ConnBlocked ConnAction = "blocked"
	ConnReject  ConnAction = "reject"
)

// ParseStatus records the outcome of parsing a raw_log line.
type ParseStatus string

const (
	ParseOK      ParseStatus = "ok"
	ParseError   ParseStatus = "error"
	ParseOversize ParseStatus = "oversize"
)

// RawLog is the append-only original-line record (spec §3, C2).
type RawLog struct {
	ID          int64
	DeviceKey   string
	ReceivedAt  time.Time
	RawLine     string
	ParseStatus ParseStatus
	JobID       *string
}

// Event is a reconstructed open/close event (spec §3, C3).
type Event struct {
	ID         int64
	DeviceKey  string
	TS         time.Time
	EventKind  EventKind
	Proto      string
	SrcIP      string
	SrcPort    int32
	DstIP      string
	DstPort    int32
	SrcZone    string
	DstZone    string
	SrcIface   string
	DstIface   string
	Rule       string
	AppName    string
	BytesOrig  int64
	BytesTerm  int64
	SrcMAC     string
	DstMAC     string
	RawLogID   int64
}

// FlowKey identifies a flow row (spec §3: (device_key, proto, src_ip,
// src_port, dst_ip, dst_port, open_ts)).
type FlowKey struct {
	DeviceKey string
	Proto     string
	SrcIP     string
	SrcPort   int32
	DstIP     string
	DstPort   int32
	OpenTS    time.Time
}

// Flow is a reconstructed bidirectional connection (spec §3, C3).
type Flow struct {
	FlowKey
	CloseTS   *time.Time
	BytesOrig int64
	BytesTerm int64
	Rule      string
	AppName   string
	SrcZone   string
	DstZone   string
	SrcIface  string
	DstIface  string
	SrcMAC    string
	DstMAC    string
	NATSrcIP  string
	NATDstIP  string
	LastSeen  time.Time
}

// EndpointAttrs is the mutable attribute bundle shared by Endpoint's auto
// and override fields (spec §3).
type EndpointAttrs struct {
	Vendor   string
	Type     string
	OS       string
	Brand    string
	Model    string
	Hostname string
	Comment  string // override only
}

// Endpoint is a device-identity inventory row keyed by (device_key, mac,
// ip) (spec §3, C4).
type Endpoint struct {
	DeviceKey string
	MAC       string
	IP        string
	FirstSeen time.Time
	LastSeen  time.Time
	SeenCount int64
	Auto      EndpointAttrs
	Override  EndpointAttrs
	HasOverride bool
}

// EndpointID is the stable identifier the query engine (C9) attaches to
// rendered nodes and edge endpoints. It is a deterministic hash of
// (device_key, mac, ip); see internal/ingest/classify.go.
type EndpointID string

// Firewall is a device-identity row (spec §3, C5).
type Firewall struct {
	DeviceKey     string `gorm:"column:device_key;primaryKey" mapstructure:"device_key"`
	DisplayName   string `gorm:"column:display_name" mapstructure:"display_name"`
	SourceSyslog  bool   `gorm:"column:source_syslog" mapstructure:"source_syslog"`
	SourceImport  bool   `gorm:"column:source_import" mapstructure:"source_import"`
	FirstSeen     time.Time `gorm:"column:first_seen" mapstructure:"first_seen"`
	LastSeen      time.Time `gorm:"column:last_seen" mapstructure:"last_seen"`
	LastImportTS  *time.Time `gorm:"column:last_import_ts" mapstructure:"last_import_ts"`
}

func (Firewall) TableName() string { return "firewalls" }

// FirewallOverride holds user-managed display overrides (spec §3).
type FirewallOverride struct {
	DeviceKey   string `gorm:"column:device_key;primaryKey" mapstructure:"device_key"`
	DisplayName string `gorm:"column:display_name" mapstructure:"display_name"`
	Comment     string `gorm:"column:comment" mapstructure:"comment"`
}

func (FirewallOverride) TableName() string { return "firewall_overrides" }

// RouterMACDirection is the direction a router-MAC rule applies to.
type RouterMACDirection string

const (
	DirectionSrc  RouterMACDirection = "src"
	DirectionDst  RouterMACDirection = "dst"
	DirectionBoth RouterMACDirection = "both"
)

// RouterMACRule marks a MAC as an upstream router rather than an
// individual endpoint (spec §3, C11).
type RouterMACRule struct {
	DeviceKey string             `gorm:"column:device_key;primaryKey" mapstructure:"device_key"`
	MAC       string             `gorm:"column:mac;primaryKey" mapstructure:"mac"`
	Direction RouterMACDirection `gorm:"column:direction" mapstructure:"direction"`
}

func (RouterMACRule) TableName() string { return "router_mac_rules" }

// JobKind is the kind of a background job (spec §3, C6).
type JobKind string

const (
	JobImport  JobKind = "import"
	JobPurge   JobKind = "purge"
	JobCleanup JobKind = "cleanup"
)

// JobStatus is the job state-machine value (spec §4.x).
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobError    JobStatus = "error"
	JobCanceled JobStatus = "canceled"
)

// IngestJob tracks a background job (spec §3, C6). Version supports
// optimistic concurrency on progress/status updates from the worker vs.
// a concurrent cancel request.
type IngestJob struct {
	JobID           string     `gorm:"column:job_id;primaryKey" mapstructure:"job_id"`
	Kind            JobKind    `gorm:"column:kind" mapstructure:"kind"`
	Status          JobStatus  `gorm:"column:status" mapstructure:"status"`
	Phase           string     `gorm:"column:phase" mapstructure:"phase"`
	Progress        float64    `gorm:"column:progress" mapstructure:"progress"`
	CancelRequested bool       `gorm:"column:cancel_requested" mapstructure:"cancel_requested"`
	DeviceKey       *string    `gorm:"column:device_key" mapstructure:"device_key"`
	Filename        *string    `gorm:"column:filename" mapstructure:"filename"`
	LinesProcessed  int64      `gorm:"column:lines_processed" mapstructure:"lines_processed"`
	RawLogsInserted int64      `gorm:"column:raw_logs_inserted" mapstructure:"raw_logs_inserted"`
	EventsInserted  int64      `gorm:"column:events_inserted" mapstructure:"events_inserted"`
	ParseErr        int64      `gorm:"column:parse_err" mapstructure:"parse_err"`
	FilteredID      int64      `gorm:"column:filtered_id" mapstructure:"filtered_id"`
	TimeMin         *time.Time `gorm:"column:time_min" mapstructure:"time_min"`
	TimeMax         *time.Time `gorm:"column:time_max" mapstructure:"time_max"`
	ErrorType       string     `gorm:"column:error_type" mapstructure:"error_type"`
	ErrorMessage    string     `gorm:"column:error_message" mapstructure:"error_message"`
	CreatedAt       time.Time  `gorm:"column:created_at" mapstructure:"created_at"`
	StartedAt       *time.Time `gorm:"column:started_at" mapstructure:"started_at"`
	FinishedAt      *time.Time `gorm:"column:finished_at" mapstructure:"finished_at"`
	Version         int64      `gorm:"column:version" mapstructure:"version"`
}

func (IngestJob) TableName() string { return "ingest_jobs" }

// Setting is a single row of the generic setting(name, value_json) table
// (spec §3, C10). Value is stored as raw JSON (json.RawMessage would
// require the encoding/json import here; callers unmarshal/marshal the
// concrete shape themselves, e.g. LogRetentionSetting).
type Setting struct {
	Name      string    `gorm:"column:name;primaryKey" mapstructure:"name"`
	ValueJSON string    `gorm:"column:value_json" mapstructure:"value_json"`
	UpdatedAt time.Time `gorm:"column:updated_at" mapstructure:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

const (
	SettingLogRetention      = "log_retention"
	SettingLocalNetworks     = "local_networks"
	SettingHABannerDismissed = "ha_banner_dismissed"
)

// LogRetentionSetting is the value shape of the log_retention setting.
type LogRetentionSetting struct {
	Enabled  bool `json:"enabled"`
	KeepDays int  `json:"keep_days"`
}

// LocalNetworksSetting is the value shape of the local_networks setting.
type LocalNetworksSetting struct {
	Enabled bool     `json:"enabled"`
	CIDRs   []string `json:"cidrs"`
}
