package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 로더는 수십만 행짜리 NDJSON 을 배치 단위로 gzip JSONEachRow
// payload 로 인코딩해 웨어하우스로 보낸다. 배치마다 버퍼와
// gzip.Writer 를 새로 만들면 GC 부담이 커지므로 재사용한다.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - 인코딩 결과를 담는 임시 버퍼
	//   - 초기 용량 256KB (일반적인 배치 사이즈에 최적화)
	//   - 1MB 초과 버퍼는 메모리 폭주 방지를 위해 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용 매우 큼)
	//   - BestSpeed 옵션: 적재 도구 특성상 속도 우선 전략
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 위임한다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// PutBuffer:
//   - 인코딩 결과 버퍼 반환
//   - 1MB 이하이면 풀에 재사용
//   - 초대형 배치 결과는 풀로 돌리지 않음 → 메모리 안정화 목적
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
