// Package parser turns a single syslog line into a tagged record (spec
// §4.1, C1). Two wire shapes are recognised: RFC5424 with Clavister's
// structured-data id= convention, and a looser RFC3164-ish BSD form. Both
// carry free-form key=value fields; unknown keys are preserved on Fields
// so they reach raw_log even though they are dropped from the typed
// Record.
//
// Grounded on the multi-record-per-datagram splitting idiom in
// gravwell-gravwell's SimpleRelay handlers (regexp-delimited re-scan),
// adapted here to a line-oriented, non-streaming shape since UDP
// datagrams already arrive whole.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// MaxLineSize is the soft bound on a single log line (spec §3, §4.7);
// lines longer than this are truncated and flagged ParseOversize by the
// caller before Parse is invoked.
const MaxLineSize = 16 * 1024

// Record is the parsed result of one syslog line.
type Record struct {
	DeviceHint string
	ReceivedAt time.Time
	Kind       model.RecordKind
	RawLine    string

	Conn   *ConnFields
	Device *DeviceFields
}

// ConnFields holds the typed fields of a CONN record (id 60/0060).
type ConnFields struct {
	Action   model.ConnAction
	Proto    string
	SrcIP    string
	SrcPort  int32
	DstIP    string
	DstPort  int32
	NATSrcIP string
	NATDstIP string
	SrcZone  string
	DstZone  string
	SrcIface string
	DstIface string
	SrcMAC   string
	DstMAC   string
	Rule     string
	AppName  string
	BytesOrig int64
	BytesTerm int64
}

// DeviceFields holds the typed fields of a DEVICE record (id 89/0890).
type DeviceFields struct {
	MAC      string
	IP       string
	Vendor   string
	HWType   string
	OSType   string
	Hostname string
	Brand    string
	Model    string
}

var (
	rfc5424Header = regexp.MustCompile(`^<(\d{1,3})>1\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(.*)$`)
	rfc3164Header = regexp.MustCompile(`^<(\d{1,3})>(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:]*):?\s*(.*)$`)
	kvPair        = regexp.MustCompile(`(\w+)=("(?:[^"\\]|\\.)*"|\S+)`)
	sdElement     = regexp.MustCompile(`^\[([^\s\]]+)((?:\s+\w+="(?:[^"\\]|\\.)*")*)\]\s*(.*)$`)
)

// Parse parses one syslog line. now is the wall-clock time used for year
// inference on RFC3164 timestamps (spec §4.1). yearMode controls how the
// inferred year is chosen when the line omits one.
func Parse(line string, now time.Time, yearMode YearMode) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Record{}, netwallerr.New(netwallerr.KindParseError, "empty line")
	}
	if len(line) > MaxLineSize {
		return Record{}, netwallerr.Newf(netwallerr.KindParseError, "line exceeds %d bytes", MaxLineSize)
	}

	if m := rfc5424Header.FindStringSubmatch(line); m != nil {
		return parseRFC5424(m, line)
	}
	if m := rfc3164Header.FindStringSubmatch(line); m != nil {
		return parseRFC3164(m, line, now, yearMode)
	}
	return Record{}, netwallerr.New(netwallerr.KindParseError, "unrecognised syslog header")
}

func parseRFC5424(m []string, rawLine string) (Record, error) {
	hostname := m[3]
	ts, err := time.Parse(time.RFC3339Nano, m[2])
	if err != nil {
		return Record{}, netwallerr.Wrap(netwallerr.KindParseError, err, "bad RFC5424 timestamp")
	}

	rest := m[7]
	sd, _, ok := splitStructuredData(rest)
	if !ok {
		return Record{}, netwallerr.New(netwallerr.KindParseError, "missing structured data element")
	}

	idVal, fields := sdFields(sd)
	kind, err := classify(idVal)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		DeviceHint: strings.ToLower(hostname),
		ReceivedAt: ts.UTC(),
		Kind:       kind,
		RawLine:    rawLine,
	}
	fillTypedFields(&rec, kind, fields)
	return rec, nil
}

// splitStructuredData extracts the leading `[id ...]` element and
// whatever trailing MSG text follows it.
func splitStructuredData(rest string) (sdName string, msg string, ok bool) {
	rest = strings.TrimSpace(rest)
	if rest == "" || rest[0] != '[' {
		return "", "", false
	}
	m := sdElement.FindStringSubmatch(rest)
	if m == nil {
		return "", "", false
	}
	return m[1] + m[2], m[3], true
}

func sdFields(sd string) (id string, fields map[string]string) {
	fields = make(map[string]string)
	for _, p := range kvPair.FindAllStringSubmatch(sd, -1) {
		key, val := p[1], unquote(p[2])
		if key == "id" {
			id = val
			continue
		}
		fields[key] = val
	}
	return id, fields
}

func parseRFC3164(m []string, rawLine string, now time.Time, yearMode YearMode) (Record, error) {
	hostname := m[3]
	ts, err := inferYear(m[2], now, yearMode)
	if err != nil {
		return Record{}, netwallerr.Wrap(netwallerr.KindParseError, err, "bad RFC3164 timestamp")
	}

	body := m[5]
	fields := make(map[string]string)
	var id string
	for _, p := range kvPair.FindAllStringSubmatch(body, -1) {
		key, val := p[1], unquote(p[2])
		if key == "id" {
			id = val
			continue
		}
		fields[key] = val
	}
	if id == "" {
		return Record{}, netwallerr.New(netwallerr.KindParseError, "no id= field")
	}

	kind, err := classify(id)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		DeviceHint: strings.ToLower(hostname),
		ReceivedAt: ts,
		Kind:       kind,
		RawLine:    rawLine,
	}
	fillTypedFields(&rec, kind, fields)
	return rec, nil
}

// classify maps an id= value to a record kind (spec §4.1: CONN ids begin
// with 60/0060, DEVICE ids begin with 89/0890).
func classify(id string) (model.RecordKind, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return "", netwallerr.New(netwallerr.KindParseError, "empty id")
	case strings.HasPrefix(id, "60") || strings.HasPrefix(id, "0060"):
		return model.RecordKindConn, nil
	case strings.HasPrefix(id, "89") || strings.HasPrefix(id, "0890"):
		return model.RecordKindDevice, nil
	default:
		return model.RecordKindOther, netwallerr.Newf(netwallerr.KindParseError, "unsupported id %q", id)
	}
}

func fillTypedFields(rec *Record, kind model.RecordKind, fields map[string]string) {
	switch kind {
	case model.RecordKindConn:
		rec.Conn = &ConnFields{
			Action:    model.ConnAction(fields["conn"]),
			Proto:     strings.ToLower(fields["prot"]),
			SrcIP:     fields["srcip"],
			SrcPort:   atoi32(fields["srcport"]),
			DstIP:     fields["destip"],
			DstPort:   atoi32(fields["destport"]),
			NATSrcIP:  fields["newsrcip"],
			NATDstIP:  fields["newdestip"],
			SrcZone:   fields["srczone"],
			DstZone:   fields["destzone"],
			SrcIface:  fields["srcif"],
			DstIface:  fields["destif"],
			SrcMAC:    strings.ToLower(fields["srcmac"]),
			DstMAC:    strings.ToLower(fields["destmac"]),
			Rule:      fields["rule"],
			AppName:   fields["app"],
			BytesOrig: atoi64(fields["sent"]),
			BytesTerm: atoi64(fields["recvd"]),
		}
		if a := rec.Conn.Action; a == model.ConnBlocked || a == model.ConnReject {
			rec.Conn.BytesOrig, rec.Conn.BytesTerm = 0, 0
		}
	case model.RecordKindDevice:
		rec.Device = &DeviceFields{
			MAC:      strings.ToLower(fields["mac"]),
			IP:       fields["ip"],
			Vendor:   fields["vendor"],
			HWType:   fields["hwtype"],
			OSType:   fields["ostype"],
			Hostname: fields["hostname"],
			Brand:    fields["brand"],
			Model:    fields["model"],
		}
	}
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\"`, `"`)
	}
	return s
}

func atoi32(s string) int32 {
	n, _ := strconv.ParseInt(s, 10, 32)
	return int32(n)
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// SplitLines splits a UDP datagram payload into its constituent syslog
// lines (spec §4.7: datagrams may contain multiple \n-separated lines).
func SplitLines(payload []byte) []string {
	raw := strings.Split(string(payload), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// Truncate enforces the 16 KiB per-line cap (spec §4.7), returning the
// truncated line and whether truncation occurred.
func Truncate(line string) (string, bool) {
	if len(line) <= MaxLineSize {
		return line, false
	}
	return line[:MaxLineSize], true
}
