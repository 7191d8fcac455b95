// internal/loader/reject.go
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// reject.go
// ------------------------------------------------------------
// 파싱에 실패한 NDJSON 라인을 모아두는 로컬 사이드 파일.
// 적재를 중단시키지 않으면서도 원본 라인을 잃지 않기 위한 장치다.
//
// 파일명 규칙:
//
//	<unix>_<instance>_<counter>.jsonl.gz
//
// 정렬하면 곧 시간 순 정렬이므로 실행 이력 추적에 쓸 수 있다.
var rejectCounter uint64

func nextCounter() uint64 {
	return atomic.AddUint64(&rejectCounter, 1) % 1_000_000
}

func timeNowUnix() int64 {
	return time.Now().Unix()
}

// RejectWriter 는 첫 reject 라인이 생길 때까지 파일을 만들지 않는다.
// 정상 적재에서 빈 reject 파일이 쌓이는 것을 막기 위해서다.
type RejectWriter struct {
	cfg     config.Config
	metrics *metrics.Metrics

	f     *os.File
	gz    *gzip.Writer
	path  string
	lines int64
}

func NewRejectWriter(cfg config.Config, m *metrics.Metrics) *RejectWriter {
	return &RejectWriter{cfg: cfg, metrics: m}
}

// Write 는 원본 라인 하나를 reject 파일에 추가한다 (개행 포함).
func (w *RejectWriter) Write(line []byte) error {
	if w.gz == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	if _, err := w.gz.Write(line); err != nil {
		return err
	}
	if _, err := w.gz.Write([]byte{'\n'}); err != nil {
		return err
	}

	w.lines++
	atomic.AddInt64(&w.metrics.RowsRejectedTotal, 1)
	return nil
}

func (w *RejectWriter) open() error {
	if err := os.MkdirAll(w.cfg.RejectDir, 0o755); err != nil {
		return fmt.Errorf("create reject dir: %w", err)
	}

	name := fmt.Sprintf("%d_%s_%06d.jsonl.gz",
		timeNowUnix(), w.cfg.InstanceID, nextCounter())
	w.path = filepath.Join(w.cfg.RejectDir, name)

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create reject file: %w", err)
	}

	w.f = f
	w.gz = gzip.NewWriter(f)

	log.Warn().Str("file", w.path).Msg("opened reject file")
	return nil
}

// Close 는 gzip stream 을 완성하고 파일을 닫는다.
// 한 번도 reject 가 없었다면 아무 일도 하지 않는다.
func (w *RejectWriter) Close() error {
	if w.gz == nil {
		return nil
	}
	if err := w.gz.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Path 는 reject 파일 경로를 돌려준다 (없으면 빈 문자열).
func (w *RejectWriter) Path() string { return w.path }

// Lines 는 지금까지 우회된 라인 수.
func (w *RejectWriter) Lines() int64 { return w.lines }
