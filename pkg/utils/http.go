package utils

import (
	"io"
)

// DrainAndClose drains the remainder of a response body and closes it so the
// transport can reuse the underlying connection.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// ReadAtMost reads up to limit bytes from r and reports how many bytes were
// actually available. Used by integrity checks that only care about length.
func ReadAtMost(r io.Reader, limit int64) (int64, error) {
	n, err := io.Copy(io.Discard, io.LimitReader(r, limit))
	if err != nil {
		return n, err
	}
	return n, nil
}
