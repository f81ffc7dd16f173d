package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSharedClient_DefaultTimeout(t *testing.T) {
	c := SharedClient(0)
	if c.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
	if c := SharedClient(5 * time.Second); c.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", c.Timeout)
	}
}

func TestSharedClient_SetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.UserAgent()
	}))
	defer srv.Close()

	resp, err := SharedClient(time.Second).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got != userAgent {
		t.Errorf("User-Agent = %q, want %q", got, userAgent)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = SharedClient(time.Second).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got != "custom" {
		t.Errorf("explicit User-Agent overwritten: %q", got)
	}
}
