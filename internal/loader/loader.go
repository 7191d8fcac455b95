// internal/loader/loader.go
package loader

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/model"
	"dulce-e2e/internal/warehouse"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Loader
// ------------------------------------------------------------
// NDJSON(newline-delimited JSON) source 를 웨어하우스 테이블로
// 적재하는 파이프라인.
//
// 구조:
//   - decode loop: source 를 줄 단위로 읽어 AgentEvent 로 해석,
//     LoadBatchSize 만큼 모이면 batchCh 로 전달
//   - insert loop: batchCh 를 소비해 InsertRows 호출
//
// 파싱 실패 라인은 적재를 중단시키지 않고 reject 파일로 우회된다.
// INSERT 실패는 적재 전체를 중단시킨다 (부분 적재 상태는 로그로 확인).
type Loader struct {
	cfg     config.Config
	store   warehouse.Store
	metrics *metrics.Metrics
}

func New(cfg config.Config, store warehouse.Store, m *metrics.Metrics) *Loader {
	return &Loader{cfg: cfg, store: store, metrics: m}
}

// 한 줄 최대 길이. NDJSON 이벤트 한 건이 이걸 넘으면 데이터가 아니라
// 포맷이 깨진 것이다.
const maxLineBytes = 1 * 1024 * 1024

// Run 은 Config.SourceFile 전체를 적재하고 성공한 행 수를 돌려준다.
func (l *Loader) Run(ctx context.Context) (int64, error) {
	src, err := l.openSource(ctx)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	reject := NewRejectWriter(l.cfg, l.metrics)
	defer reject.Close()

	// ------------------------------------------------------------
	// insert loop
	// INSERT 실패 시 ictx 를 취소해 decode loop 도 함께 멈춘다.
	// ------------------------------------------------------------
	ictx, cancel := context.WithCancel(ctx)
	defer cancel()

	batchCh := make(chan []*model.AgentEvent, 2)
	insertErr := make(chan error, 1)

	var loaded int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range batchCh {
			if err := l.store.InsertRows(ictx, batch); err != nil {
				select {
				case insertErr <- err:
				default:
				}
				cancel()
				// 남은 배치는 버린다. channel 이 닫힐 때까지 drain 만 한다.
				for range batchCh {
				}
				return
			}
			atomic.AddInt64(&loaded, int64(len(batch)))
		}
	}()

	// ------------------------------------------------------------
	// decode loop
	// ------------------------------------------------------------
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	batch := make([]*model.AgentEvent, 0, l.cfg.LoadBatchSize)
	lineNo := 0

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		out := batch
		batch = make([]*model.AgentEvent, 0, l.cfg.LoadBatchSize)
		select {
		case batchCh <- out:
			return true
		case <-ictx.Done():
			return false
		}
	}

scan:
	for scanner.Scan() {
		if ictx.Err() != nil {
			break scan
		}
		lineNo++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev := new(model.AgentEvent)
		if err := json.Unmarshal(line, ev); err != nil {
			log.Warn().Int("line", lineNo).Err(err).Msg("unparseable line, rejecting")
			if werr := reject.Write(line); werr != nil {
				// reject 파일조차 쓸 수 없으면 데이터 유실이므로 중단한다.
				close(batchCh)
				wg.Wait()
				return atomic.LoadInt64(&loaded), fmt.Errorf("write reject file: %w", werr)
			}
			continue
		}

		batch = append(batch, ev)
		if len(batch) >= l.cfg.LoadBatchSize {
			if !flush() {
				break scan
			}
		}
	}

	scanErr := scanner.Err()

	// 남은 partial batch flush 후 insert loop 종료 대기
	flush()
	close(batchCh)
	wg.Wait()

	total := atomic.LoadInt64(&loaded)

	select {
	case err := <-insertErr:
		return total, err
	default:
	}
	if scanErr != nil {
		return total, fmt.Errorf("read source: %w", scanErr)
	}

	if n := reject.Lines(); n > 0 {
		log.Warn().Int64("rejected", n).Str("file", reject.Path()).Msg("some lines were rejected")
	}

	return total, nil
}
