// internal/loader/source.go
package loader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// openSource 는 Config.SourceFile 을 연다.
//   - "s3://bucket/key" → S3 GetObject
//   - 그 외             → 로컬 파일
//
// 어느 쪽이든 gzip magic(1f 8b)으로 시작하면 투명하게 해제한다.
// CI 아티팩트나 수집 원본이 .jsonl.gz 로 떨어지는 경우가 많아서
// 확장자가 아니라 내용으로 판별한다.
func (l *Loader) openSource(ctx context.Context) (io.ReadCloser, error) {
	src := l.cfg.SourceFile

	if strings.HasPrefix(src, "s3://") {
		rc, err := l.openS3(ctx, src)
		if err != nil {
			return nil, err
		}
		return maybeGunzip(rc)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", src, err)
	}
	return maybeGunzip(f)
}

// openS3 는 s3://bucket/key 를 GetObject 로 연다.
// SDK retry 는 0으로 고정하고 재시도 횟수는 애플리케이션 레벨
// (S3AppRetries)에서만 제어한다. retry 는 한 계층에서만 건다.
func (l *Loader) openS3(ctx context.Context, src string) (io.ReadCloser, error) {
	rest := strings.TrimPrefix(src, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid s3 source %q (want s3://bucket/key)", src)
	}
	bucket, key := parts[0], parts[1]

	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx,
		awsCfgLib.WithRegion(l.cfg.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= l.cfg.S3AppRetries; attempt++ {

		// shutdown 체크
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return out.Body, nil
		}

		lastErr = err
		atomic.AddInt64(&l.metrics.S3GetErrorsTotal, 1)
		log.Warn().Err(err).Int("attempt", attempt).Msg("s3 get failed")

		// backoff 적용 (최대 2초)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return nil, fmt.Errorf("s3 get s3://%s/%s: %w", bucket, key, lastErr)
}

// sourceReader 는 gzip 해제 reader 와 원본 stream 을 함께 닫는다.
type sourceReader struct {
	io.Reader
	closers []io.Closer
}

func (s *sourceReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// maybeGunzip 은 stream 선두 2바이트를 peek 해서 gzip 이면
// 해제 reader 로 감싼다. peek 한 바이트는 소비되지 않는다.
func maybeGunzip(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)

	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, zerr := gzip.NewReader(br)
		if zerr != nil {
			rc.Close()
			return nil, fmt.Errorf("open gzip source: %w", zerr)
		}
		return &sourceReader{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	}

	// 2바이트 미만의 파일(빈 source 포함)은 그대로 통과시킨다.
	return &sourceReader{Reader: br, closers: []io.Closer{rc}}, nil
}
