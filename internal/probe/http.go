package probe

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/cookiejar"
)

func newCookieJar() (*cookiejar.Jar, error) {
	return cookiejar.New(nil)
}

func marshalJSON(v any) (io.Reader, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}
