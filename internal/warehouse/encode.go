// internal/warehouse/encode.go
package warehouse

import (
	"bytes"

	"dulce-e2e/internal/model"
	"dulce-e2e/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// encodeRowsJSONLGZ 는 이벤트 배치를 JSONEachRow(JSONL) 형식으로
// 줄 단위 인코딩한 뒤 gzip 압축해 반환한다.
// ClickHouse HTTP INSERT 의 Content-Encoding: gzip body 로 쓰인다.
//
// 버퍼와 gzip.Writer 는 pool 에서 재사용하고,
// 결과는 새로운 []byte 로 복사해 호출자에게 소유권을 넘긴다
// (pool 버퍼를 그대로 반환하면 재사용 시점에 내용이 덮어써진다).
func encodeRowsJSONLGZ(rows []*model.AgentEvent) ([]byte, error) {

	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	enc := json.NewEncoder(gz)

	// 행마다 한 줄씩 JSON 인코딩 → gzip writer 로 바로 write.
	// goccy encoder 의 Encode 는 줄 끝에 '\n' 을 붙이므로
	// 그대로 JSONL 이 된다.
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			_ = gz.Close()
			pool.GzipPool.Put(gz)
			pool.PutBuffer(buf)
			return nil, err
		}
	}

	// gzip footer flush & close. Close() 시 압축 스트림이 완성된다.
	if err := gz.Close(); err != nil {
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}
	pool.GzipPool.Put(gz)

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)

	pool.PutBuffer(buf)

	return data, nil
}
