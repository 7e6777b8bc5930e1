package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// fileReader opens a file:// URL from the local filesystem, stripping
// the scheme prefix.
type fileReader struct{}

func (fileReader) Open(_ context.Context, url string) (io.ReadCloser, error) {
	path := url
	if len(path) >= len("file://") && path[:7] == "file://" {
		path = path[7:]
	}
	return os.Open(path)
}

// httpReader opens an http(s):// URL with the package-level client,
// surfacing any non-2xx response as an error.
type httpReader struct {
	client *http.Client
}

func (h httpReader) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("ingest: GET %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}

// DefaultReaders returns the scheme -> URLReader table SYNC/ASYNC
// contributions resolve their source against: "file", "http", "https".
func DefaultReaders() map[string]URLReader {
	client := &http.Client{}
	return map[string]URLReader{
		"file":  fileReader{},
		"http":  httpReader{client: client},
		"https": httpReader{client: client},
	}
}
