package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"emberguide.ai/internal/sim/encoding"
	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/perturb"
)

// JSONLZstdWriter appends JSON lines to zstd files rotated hourly.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// MemberEntry is one line of the member log.
type MemberEntry struct {
	RunID        string         `json:"run_id"`
	FireID       string         `json:"fire_id,omitempty"`
	Member       int            `json:"member"`
	Status       string         `json:"status"`
	Error        string         `json:"error,omitempty"`
	Perturbation perturb.Vector `json:"perturbation"`
	Steps        int            `json:"steps"`
	Burned       int            `json:"burned"`
	Cells        int            `json:"cells,omitempty"`
	// Ignition is the run-length encoded ignition-step grid.
	Ignition string `json:"ignition,omitempty"`
}

// MemberLogger records every ensemble member outcome (compressed). It
// satisfies ensemble.MemberSink.
type MemberLogger struct{ w *JSONLZstdWriter }

func NewMemberLogger(dir string) *MemberLogger {
	return &MemberLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "members"), "members")}
}

func (l *MemberLogger) WriteMember(rec ensemble.MemberRecord) error {
	e := MemberEntry{
		RunID:        rec.RunID,
		FireID:       rec.FireID,
		Member:       rec.Member,
		Status:       string(rec.Status),
		Error:        rec.Error,
		Perturbation: rec.Perturbation,
		Steps:        rec.Steps,
		Burned:       rec.Burned,
	}
	if rec.IgnitionStep != nil {
		e.Cells = len(rec.IgnitionStep)
		e.Ignition = encoding.EncodeSteps(rec.IgnitionStep)
	}
	return l.w.Write(e)
}

func (l *MemberLogger) Close() error { return l.w.Close() }

// DecodeIgnition expands the entry's ignition grid.
func (e MemberEntry) DecodeIgnition() ([]int32, error) {
	if e.Ignition == "" {
		return nil, nil
	}
	return encoding.DecodeSteps(e.Ignition, e.Cells)
}

// ReadMembers decodes every entry of a member log file.
func ReadMembers(path string) ([]MemberEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []MemberEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		var e MemberEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
