// Package streamdump mirrors a PubSubHTTPEndpoint's line-oriented tail to a
// compressed on-disk backup file, the offline counterpart of internal/pubsub
// for operators who want a durable copy outside the stream's own persister.
//
// Grounded on internal/replay/writer.go's event-log sink: entries are
// appended through a github.com/golang/snappy writer exactly as
// Writer.AppendEvent does, because the source here, like the teacher's
// event log, is newline-delimited JSON.
package streamdump

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Result reports what a Mirror call wrote.
type Result struct {
	Lines int64
	Bytes int64
}

// Mirror issues a GET against sourceURL (expected to carry its own query,
// e.g. "?nowait&stop_after_bytes=..." or a live "?n=..." tail) and appends
// every line of the chunked response body to a snappy-compressed file at
// destPath, creating or truncating it.
func Mirror(client *http.Client, sourceURL, destPath string) (Result, error) {
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Get(sourceURL)
	if err != nil {
		return Result{}, errors.Wrapf(err, "fetch %s", sourceURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, errors.Errorf("unexpected status %d from %s", resp.StatusCode, sourceURL)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return Result{}, errors.Wrapf(err, "create %s", destPath)
	}
	defer out.Close()

	sink := snappy.NewBufferedWriter(out)
	defer sink.Close()

	return copyLines(resp.Body, sink)
}

func copyLines(src io.Reader, dst *snappy.Writer) (Result, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result Result
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		n, err := dst.Write(line)
		if err != nil {
			return result, errors.Wrap(err, "write backup line")
		}
		result.Bytes += int64(n)
		if _, err := dst.Write([]byte("\n")); err != nil {
			return result, errors.Wrap(err, "write backup newline")
		}
		result.Bytes++
		result.Lines++
	}
	if err := scanner.Err(); err != nil {
		return result, errors.Wrap(err, "scan response body")
	}
	if err := dst.Flush(); err != nil {
		return result, errors.Wrap(err, "flush backup")
	}
	return result, nil
}

// DefaultClient returns an http.Client with a sane read timeout for bounded
// (nowait) mirrors; pass nil to Mirror for unbounded live tails instead.
func DefaultClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
