package docstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// S3 stores documents in an S3-compatible bucket using AWS signature
// version 4. It speaks plain HTTP to the service so it works against
// AWS, MinIO and other compatible implementations without an SDK.
type S3 struct {
	endpoint    string
	accessKeyID string
	secretKey   string
	bucket      string
	location    string
	prefix      string
	httpClient  *http.Client

	now func() time.Time
}

// OpenS3 validates the connection parameters and returns a store
// rooted at prefix inside bucket. It performs no network calls.
func OpenS3(
	endpoint string,
	accessKeyID string,
	secretKey string,
	bucket string,
	location string,
	prefix string,
) (*S3, error) {
	// Endpoint must always end with '/'
	endpoint = strings.TrimRight(endpoint, "/") + "/"

	// Bucket must have no '/' at all
	bucket = strings.Trim(bucket, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket name can not be empty", ErrInvalidPath)
	}
	if strings.Contains(bucket, "/") {
		return nil, fmt.Errorf("%w: bucket name can not contain / character", ErrInvalidPath)
	}

	if location == "" {
		return nil, fmt.Errorf("%w: location can not be empty", ErrInvalidPath)
	}

	// If prefix is not empty, it must end with '/'
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix = prefix + "/"
	}

	return &S3{
		endpoint:    endpoint,
		accessKeyID: accessKeyID,
		secretKey:   secretKey,
		bucket:      bucket,
		location:    location,
		prefix:      prefix,
		httpClient:  &http.Client{},
		now:         time.Now,
	}, nil
}

func (s *S3) String() string {
	u, err := s.objectURL("")
	if err != nil {
		return "s3(misconfigured)"
	}
	return "s3:" + u
}

func (s *S3) objectURL(path string) (string, error) {
	reqURL, err := url.Parse(s.endpoint + s.prefix + path)
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(reqURL.Host, s.bucket+".") {
		reqURL.Path = "/" + s.bucket + reqURL.Path
	}

	return reqURL.String(), nil
}

// Upload implements Store. S3 object PUTs replace the whole object so
// retried uploads converge on the same content.
func (s *S3) Upload(ctx context.Context, path string, data []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	reqURL, err := s.objectURL(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	req, err := s.signedRequest(ctx, http.MethodPut, reqURL, bytes.NewReader(data), "application/pdf", int64(len(data)), s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected response code %d on upload of %s", ErrStorageFailure, resp.StatusCode, path)
	}
	return nil
}

// Download implements Store.
func (s *S3) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	reqURL, err := s.objectURL(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	req, err := s.signedRequest(ctx, http.MethodGet, reqURL, nil, "", 0, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: unexpected response code %d on download of %s", ErrStorageFailure, resp.StatusCode, path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return data, nil
}

// SignedURL implements Store using query-string presigning. The
// returned URL authorizes exactly one GET of the object until expiry.
func (s *S3) SignedURL(path string, ttl time.Duration) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	ttl, err := ClampTTL(ttl)
	if err != nil {
		return "", err
	}

	rawURL, err := s.objectURL(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	reqURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	t := s.now().UTC()
	timeISO8601 := t.Format("20060102T150405Z")
	timeYYYYMMDD := t.Format("20060102")
	scope := timeYYYYMMDD + "/" + s.location + "/" + serviceName + "/aws4_request"

	q := url.Values{}
	q.Set("X-Amz-Algorithm", authorizationV4)
	q.Set("X-Amz-Credential", s.accessKeyID+"/"+scope)
	q.Set("X-Amz-Date", timeISO8601)
	q.Set("X-Amz-Expires", strconv.Itoa(int(ttl/time.Second)))
	q.Set("X-Amz-SignedHeaders", "host")
	reqURL.RawQuery = q.Encode()

	canonicalRequest := strings.Join([]string{
		http.MethodGet,
		reqURL.Path,
		reqURL.RawQuery,
		"host:" + reqURL.Host + "\n",
		"host",
		unsignedPayload,
	}, "\n")
	canonicalRequestHash := sha256.Sum256([]byte(canonicalRequest))

	stringToSign := authorizationV4 + "\n" +
		timeISO8601 + "\n" +
		scope + "\n" +
		hex.EncodeToString(canonicalRequestHash[:])

	signature := hex.EncodeToString(hmacSha256(s.signingKey(timeYYYYMMDD), []byte(stringToSign)))

	reqURL.RawQuery = reqURL.RawQuery + "&X-Amz-Signature=" + signature
	return reqURL.String(), nil
}

const (
	authorizationV4 = "AWS4-HMAC-SHA256"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	serviceName     = "s3"
)

func (s *S3) signedRequest(
	ctx context.Context,
	method string,
	reqURL string,
	body io.Reader,
	contentType string,
	contentLength int64,
	t time.Time,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = contentLength
	}

	t = t.UTC()
	timeISO8601 := t.Format("20060102T150405Z")
	timeYYYYMMDD := t.Format("20060102")
	scope := timeYYYYMMDD + "/" + s.location + "/" + serviceName + "/aws4_request"
	credential := s.accessKeyID + "/" + scope

	req.Header.Set("X-Amz-Date", timeISO8601)
	req.Header.Set("X-Amz-Content-Sha256", unsignedPayload)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	canonicalURI := req.URL.Path
	canonicalQueryString := req.URL.Query().Encode()

	signedHeadersList := []string{"host"}
	for h := range req.Header {
		signedHeadersList = append(signedHeadersList, strings.ToLower(h))
	}
	sort.Strings(signedHeadersList)
	signedHeaders := strings.Join(signedHeadersList, ";")
	canonicalHeaders := ""
	for _, h := range signedHeadersList {
		if h == "host" {
			canonicalHeaders = canonicalHeaders + h + ":" + req.Host + "\n"
		} else {
			canonicalHeaders = canonicalHeaders + h + ":" + req.Header.Get(h) + "\n"
		}
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		canonicalQueryString,
		canonicalHeaders,
		signedHeaders,
		unsignedPayload,
	}, "\n")
	canonicalRequestHash := sha256.Sum256([]byte(canonicalRequest))

	stringToSign := authorizationV4 + "\n" +
		timeISO8601 + "\n" +
		scope + "\n" +
		hex.EncodeToString(canonicalRequestHash[:])

	signature := hex.EncodeToString(hmacSha256(s.signingKey(timeYYYYMMDD), []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s,SignedHeaders=%s,Signature=%s",
		authorizationV4,
		credential,
		signedHeaders,
		signature,
	))

	return req, nil
}

func (s *S3) signingKey(timeYYYYMMDD string) []byte {
	dateKey := hmacSha256([]byte("AWS4"+s.secretKey), []byte(timeYYYYMMDD))
	dateRegionKey := hmacSha256(dateKey, []byte(s.location))
	dateRegionServiceKey := hmacSha256(dateRegionKey, []byte(serviceName))
	return hmacSha256(dateRegionServiceKey, []byte("aws4_request"))
}

func hmacSha256(key []byte, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
