// Package clientapi speaks the depotvault REST API. It is used by the
// command line client and is independent of the server packages.
package clientapi

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/antonholmquist/jason"
)

// Exported errors
var (
	ErrNotFound       = errors.New("Bundle Not Found in Depotvault")
	ErrNotAuthorized  = errors.New("Access Denied")
	ErrInvalidKey     = errors.New("Invalid Key")
	ErrExists         = errors.New("Bundle Already Cached")
	ErrCooldown       = errors.New("Populate Rate Limited")
	ErrUnexpectedResp = errors.New("Unexpected Response Code")
)

// A Connection talks to one depotvault server. Set HostURL, and Token if
// the server requires one, before use.
type Connection struct {
	HostURL string
	Token   string

	client *http.Client
}

// BundleInfo returns the info document for a cached bundle.
func (c *Connection) BundleInfo(key string) (*jason.Object, error) {
	return c.doJasonGet("/bundle/" + key + "/info")
}

// List returns every blob key on the server with the given prefix. An
// empty prefix lists everything.
func (c *Connection) List(prefix string) ([]string, error) {
	req, err := http.NewRequest("GET", c.HostURL+"/list/"+prefix, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}
	// the list routes return a bare JSON array
	v, err := jason.NewValueFromReader(resp.Body)
	if err != nil {
		return nil, err
	}
	values, err := v.Array()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, value := range values {
		s, err := value.String()
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// Download copies the whole bundle blob for key from the server to w.
func (c *Connection) Download(w io.Writer, key string) error {
	var path = c.HostURL + "/bundle/" + key

	req, _ := http.NewRequest("GET", path, nil)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		log.Println("returned", resp.StatusCode, path)
		return err
	}

	_, err = io.Copy(w, resp.Body)

	return err
}

// DownloadChunked copies the bundle blob for key to w one chunk at a time.
// The result written to w is identical to what Download writes; only the
// transfer is different. Useful when something between us and the server
// limits response sizes.
func (c *Connection) DownloadChunked(w io.Writer, key string) error {
	total, err := c.chunkCount(key)
	if err != nil {
		return err
	}
	for n := 1; n <= total; n++ {
		err = c.downloadChunk(w, key, n)
		if err != nil {
			return err
		}
	}
	return nil
}

// chunkCount asks the server how many chunks the bundle splits into.
func (c *Connection) chunkCount(key string) (int, error) {
	req, _ := http.NewRequest("HEAD", c.HostURL+"/bundle/"+key, nil)
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(resp.Header.Get("X-Chunk-Count"))
	if err != nil || n < 1 {
		return 0, ErrUnexpectedResp
	}
	return n, nil
}

func (c *Connection) downloadChunk(w io.Writer, key string, n int) error {
	path := fmt.Sprintf("%s/bundle/%s/chunk/%d", c.HostURL, key, n)
	req, _ := http.NewRequest("GET", path, nil)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		log.Println("returned", resp.StatusCode, path)
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Populate asks the server to fetch and cache the bundle for key. On
// success the server's populate document is returned. A key the server has
// already cached returns ErrExists. A rate limited request returns
// ErrCooldown.
func (c *Connection) Populate(key string) (*jason.Object, error) {
	path := c.HostURL + "/bundle/" + key

	req, _ := http.NewRequest("POST", path, nil)
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 201:
		return jason.NewObjectFromReader(resp.Body)
	default:
		log.Printf("Received HTTP status %d for POST %s", resp.StatusCode, path)
		return nil, statusError(resp.StatusCode)
	}
}

// statusError maps an API status code to one of our errors. A 2xx code
// maps to nil.
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 400:
		return ErrInvalidKey
	case code == 401:
		return ErrNotAuthorized
	case code == 404:
		return ErrNotFound
	case code == 409:
		return ErrExists
	case code == 429:
		return ErrCooldown
	default:
		return ErrUnexpectedResp
	}
}

// do performs an http request using our client with a timeout. The
// timeout is arbitrary, and is just there so we don't hang indefinitely
// should the server never close the connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Add("X-Api-Key", c.Token)
	}
	if c.client == nil {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	}
	return c.client.Do(req)
}

func (c *Connection) doJasonGet(path string) (*jason.Object, error) {
	path = c.HostURL + path

	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept-Encoding", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
		return jason.NewObjectFromReader(resp.Body)
	default:
		return nil, statusError(resp.StatusCode)
	}
}
