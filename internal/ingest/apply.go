package ingest

import (
	"context"
	"time"

	"github.com/matnordlund/netwall-flow-analyzer/internal/firewall"
	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/parser"
	"github.com/matnordlund/netwall-flow-analyzer/internal/stats"
)

// Pipeline ties C1 (parse) to C2 (raw_log store), C3 (flow
// reconstruction), C4 (endpoint resolver), and C5 (firewall touch) for a
// single parsed line (spec §2 data flow: C7/C8 -> C1 -> C2 -> (C11, C3,
// C4)). Both the UDP receiver (C7) and the file importer (C8) call
// ApplyLine; the only difference between them is how DeviceKey is
// derived and whether lines are sharded across goroutines or processed
// strictly in order.
type Pipeline struct {
	YearMode      parser.YearMode
	Batcher       *Batcher
	Reconstructor *Reconstructor
	Endpoints     *EndpointResolver
	Firewalls     *firewall.Store
	Stats         *stats.Counters
}

// ApplyResult reports what one line produced, for callers that
// accumulate job progress counters (C8).
type ApplyResult struct {
	RawLogInserted bool
	EventInserted  bool
	ParseErr       bool
	FilteredOther  bool
	TS             time.Time
}

// ApplyLine parses one line, persists it as a raw_log, and (for CONN and
// DEVICE records) applies the downstream reconstruction/resolution. The
// raw_log row is always written, even for parse_error and "other" lines
// (spec §3: raw_log is retained regardless of parse outcome).
func (p *Pipeline) ApplyLine(ctx context.Context, deviceKey, line string, receivedAt time.Time, jobID *string) ApplyResult {
	rec, perr := parser.Parse(line, receivedAt, p.YearMode)

	status := model.ParseOK
	if perr != nil {
		status = model.ParseError
	}
	// rec.DeviceHint (parsed hostname) is informational only here; the
	// caller has already resolved deviceKey via firewall.DeviceKeyFromSyslog
	// or DeviceKeyFromImport before calling ApplyLine.

	rawLogID, err := p.Batcher.Append(ctx, model.RawLog{
		DeviceKey:   deviceKey,
		ReceivedAt:  receivedAt,
		RawLine:     line,
		ParseStatus: status,
		JobID:       jobID,
	})
	if err != nil {
		logger.Warn("raw_log append failed", "device_key", deviceKey, "error", err)
		if p.Stats != nil {
			p.Stats.IncParseErr()
		}
		return ApplyResult{ParseErr: true}
	}

	result := ApplyResult{RawLogInserted: true, TS: receivedAt}

	if err := p.Firewalls.Touch(ctx, deviceKey, receivedAt, jobID != nil); err != nil {
		logger.Warn("firewall touch failed", "device_key", deviceKey, "error", err)
	}

	if perr != nil {
		result.ParseErr = true
		if p.Stats != nil {
			p.Stats.IncParseErr()
		}
		return result
	}
	if p.Stats != nil {
		p.Stats.IncParseOK()
	}

	switch rec.Kind {
	case model.RecordKindConn:
		if err := p.Reconstructor.Apply(ctx, ConnInput{
			DeviceKey: deviceKey,
			RawLogID:  rawLogID,
			TS:        rec.ReceivedAt,
			Fields:    rec.Conn,
		}); err != nil {
			logger.Warn("flow reconstruction failed", "device_key", deviceKey, "error", err)
			result.ParseErr = true
			if p.Stats != nil {
				p.Stats.IncParseErr()
			}
			return result
		}
		result.EventInserted = true
		p.sightEndpoints(ctx, deviceKey, rec.ReceivedAt, rec.Conn)

	case model.RecordKindDevice:
		d := rec.Device
		if err := p.Endpoints.ApplyDevice(ctx, deviceKey, DeviceObservation{
			MAC: d.MAC, IP: d.IP, Vendor: d.Vendor, Type: d.HWType, OS: d.OSType,
			Brand: d.Brand, Model: d.Model, Hostname: d.Hostname,
		}, rec.ReceivedAt); err != nil {
			logger.Warn("device resolution failed", "device_key", deviceKey, "error", err)
		}

	default:
		result.FilteredOther = true
	}

	return result
}

// sightEndpoints touches both sides of a CONN record when a mac is
// present (spec §4.4).
func (p *Pipeline) sightEndpoints(ctx context.Context, deviceKey string, at time.Time, f *parser.ConnFields) {
	if f == nil {
		return
	}
	if f.SrcMAC != "" {
		_ = p.Endpoints.Sighting(ctx, deviceKey, f.SrcMAC, f.SrcIP, at)
	}
	if f.DstMAC != "" {
		_ = p.Endpoints.Sighting(ctx, deviceKey, f.DstMAC, f.DstIP, at)
	}
}
