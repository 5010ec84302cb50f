package docstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestValidatePath(t *testing.T) {
	valid := []string{
		"a.pdf",
		"org/1/lease/2/renewal/3/unsigned.pdf",
	}
	for _, p := range valid {
		if err := ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", p, err)
		}
	}

	invalid := []string{
		"",
		"/abs.pdf",
		"dir/",
		"a//b.pdf",
		"a/../b.pdf",
		"./a.pdf",
		"a\\b.pdf",
	}
	for _, p := range invalid {
		if err := ValidatePath(p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ValidatePath(%q) = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestClampTTL(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{name: "zero uses default", ttl: 0, want: DefaultURLTTL},
		{name: "minimum", ttl: MinURLTTL, want: MinURLTTL},
		{name: "maximum", ttl: MaxURLTTL, want: MaxURLTTL},
		{name: "below minimum", ttl: 500 * time.Millisecond, wantErr: true},
		{name: "above maximum", ttl: 7 * time.Hour, wantErr: true},
		{name: "negative", ttl: -time.Minute, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClampTTL(tt.ttl)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTTL) {
					t.Fatalf("ClampTTL(%s) error = %v, want ErrInvalidTTL", tt.ttl, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClampTTL(%s) error = %v", tt.ttl, err)
			}
			if got != tt.want {
				t.Errorf("ClampTTL(%s) = %s, want %s", tt.ttl, got, tt.want)
			}
		})
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	data := []byte("%PDF-1.7 test")
	if err := m.Upload(ctx, "org/1/doc.pdf", data); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	got, err := m.Download(ctx, "org/1/doc.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Download = %q, want %q", got, data)
	}

	// Uploads replace existing objects.
	data2 := []byte("%PDF-1.7 replaced")
	if err := m.Upload(ctx, "org/1/doc.pdf", data2); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err = m.Download(ctx, "org/1/doc.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data2) {
		t.Errorf("Download after replace = %q, want %q", got, data2)
	}

	_, err = m.Download(ctx, "org/1/missing.pdf")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Download missing = %v, want ErrObjectNotFound", err)
	}
	if !errors.Is(err, ErrStorageFailure) {
		t.Errorf("ErrObjectNotFound does not wrap ErrStorageFailure")
	}
}

func TestMemorySignedURL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	if err := m.Upload(ctx, "org/1/doc.pdf", []byte("data")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	u, err := m.SignedURL("org/1/doc.pdf", 2*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if got := parsed.Query().Get("expires"); got != "1700000120" {
		t.Errorf("expires = %s, want 1700000120", got)
	}

	if _, err := m.SignedURL("org/1/missing.pdf", 0); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("SignedURL missing = %v, want ErrObjectNotFound", err)
	}
	if _, err := m.SignedURL("org/1/doc.pdf", 10*time.Hour); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("SignedURL long ttl = %v, want ErrInvalidTTL", err)
	}
}

func TestS3RoundTrip(t *testing.T) {
	objects := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=testkey/") {
			t.Errorf("Authorization = %q", auth)
		}
		if r.Header.Get("X-Amz-Date") == "" {
			t.Error("missing X-Amz-Date header")
		}

		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	s, err := OpenS3(srv.URL, "testkey", "testsecret", "lease-renewals", "us-east-1", "")
	if err != nil {
		t.Fatalf("OpenS3: %v", err)
	}

	ctx := context.Background()
	data := []byte("%PDF-1.7 payload")

	if err := s.Upload(ctx, "org/1/doc.pdf", data); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, ok := objects["/lease-renewals/org/1/doc.pdf"]; !ok {
		t.Fatalf("object not stored under bucket path, have %v", objects)
	}

	got, err := s.Download(ctx, "org/1/doc.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Download = %q, want %q", got, data)
	}

	if _, err := s.Download(ctx, "org/1/missing.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Download missing = %v, want ErrObjectNotFound", err)
	}
}

func TestS3SignedURL(t *testing.T) {
	s, err := OpenS3("https://s3.example.com", "testkey", "testsecret", "lease-renewals", "us-east-1", "")
	if err != nil {
		t.Fatalf("OpenS3: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	u, err := s.SignedURL("org/1/doc.pdf", 5*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := parsed.Query()
	if got := q.Get("X-Amz-Algorithm"); got != "AWS4-HMAC-SHA256" {
		t.Errorf("X-Amz-Algorithm = %s", got)
	}
	if got := q.Get("X-Amz-Credential"); got != "testkey/20260301/us-east-1/s3/aws4_request" {
		t.Errorf("X-Amz-Credential = %s", got)
	}
	if got := q.Get("X-Amz-Expires"); got != "300" {
		t.Errorf("X-Amz-Expires = %s", got)
	}
	if got := q.Get("X-Amz-Date"); got != "20260301T120000Z" {
		t.Errorf("X-Amz-Date = %s", got)
	}
	if q.Get("X-Amz-Signature") == "" {
		t.Error("missing X-Amz-Signature")
	}
	if parsed.Path != "/lease-renewals/org/1/doc.pdf" {
		t.Errorf("path = %s", parsed.Path)
	}

	// Presigning is deterministic for a fixed clock.
	u2, err := s.SignedURL("org/1/doc.pdf", 5*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if u != u2 {
		t.Errorf("presigned URLs differ for identical inputs:\n%s\n%s", u, u2)
	}

	if _, err := s.SignedURL("org/1/doc.pdf", 24*time.Hour); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("SignedURL long ttl = %v, want ErrInvalidTTL", err)
	}
}
