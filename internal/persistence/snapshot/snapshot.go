// Package snapshot stores a complete forecast (request, config and outputs)
// as a zstd stream: one JSON header line followed by a gob body. The header
// can be read without decoding the grids.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"emberguide.ai/internal/sim/nowcast"
	"emberguide.ai/internal/sim/tuning"
)

const Version = 1

type Header struct {
	Version   int       `json:"version"`
	FireID    string    `json:"fire_id"`
	RunID     string    `json:"run_id"`
	Digest    string    `json:"digest"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type SnapshotV1 struct {
	Header   Header
	Config   tuning.Config
	Request  nowcast.Request
	Forecast nowcast.Forecast
}

// New assembles a snapshot for a finished forecast.
func New(req nowcast.Request, cfg tuning.Config, f *nowcast.Forecast, now time.Time) SnapshotV1 {
	return SnapshotV1{
		Header: Header{
			Version:   Version,
			FireID:    req.FireID,
			RunID:     f.Metadata.RunID,
			Digest:    f.Metadata.Digest,
			Status:    string(f.Metadata.Status),
			CreatedAt: now.UTC(),
		},
		Config:   cfg,
		Request:  req,
		Forecast: *f,
	}
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func open(path string) (*os.File, *zstd.Decoder, *bufio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	return f, dec, bufio.NewReaderSize(dec, 256*1024), nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, dec, br, err := open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	defer dec.Close()

	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

var ErrVersion = errors.New("unsupported snapshot version")

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, dec, br, err := open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	defer dec.Close()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, snap.Header.Version)
	}
	return snap, nil
}
