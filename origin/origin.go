// Package origin fetches manifest file sets from a GitHub-compatible
// hosting service. Each cache key maps to a branch of the same name in one
// of a configured list of repositories. The branch's tree is listed, the
// manifest files are selected by name, and their raw contents downloaded.
package origin

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/depotvault/depotvault/bundle"
	"github.com/depotvault/depotvault/util"
)

// Exported errors
var (
	ErrBranchNotFound = errors.New("branch not found in repository")
	ErrNotAuthorized  = errors.New("access denied by hosting service")
	ErrBadResponse    = errors.New("malformed response from hosting service")
)

// A Repo identifies one repository as "owner/name".
type Repo string

// Commit is the head of a resolved branch.
type Commit struct {
	SHA     string
	TreeURL string
}

// TreeEntry is one path in a commit's file tree.
type TreeEntry struct {
	Path string
}

// Client talks to one GitHub-compatible hosting service. The zero value is
// not usable; fill in at least APIBase and RawBase. Client is safe for use
// from multiple goroutines once the first request has been made.
type Client struct {
	APIBase string // e.g. "https://api.github.com"
	RawBase string // e.g. "https://raw.githubusercontent.com"
	Token   string // optional bearer token

	// MatchSuffix selects tree entries whose path ends with this suffix.
	// MatchFile selects the entry exactly equal to it. An entry is fetched
	// if either matches. Zero values select nothing.
	MatchSuffix string
	MatchFile   string

	// FetchLimit is the maximum number of raw file downloads in flight at
	// once. Zero means 4.
	FetchLimit int

	client *http.Client
}

// ResolveBranch looks up the branch named key in the given repository and
// returns its head commit. A missing branch or repository returns
// ErrBranchNotFound.
func (c *Client) ResolveBranch(repo Repo, key string) (Commit, error) {
	var result Commit
	v, err := c.doJasonGet(fmt.Sprintf("/repos/%s/branches/%s", repo, key))
	if err != nil {
		return result, err
	}
	result.SHA, err = v.GetString("commit", "sha")
	if err != nil {
		return result, ErrBadResponse
	}
	result.TreeURL, err = v.GetString("commit", "commit", "tree", "url")
	if err != nil {
		return result, ErrBadResponse
	}
	return result, nil
}

// ListTree returns every path in the tree at the given URL. The URL comes
// from a resolved commit; a "?recursive=1" parameter is added so nested
// directories are flattened into full paths.
func (c *Client) ListTree(treeURL string) ([]TreeEntry, error) {
	sep := "?"
	if strings.Contains(treeURL, "?") {
		sep = "&"
	}
	v, err := c.doJasonGetURL(treeURL + sep + "recursive=1")
	if err != nil {
		return nil, err
	}
	items, err := v.GetObjectArray("tree")
	if err != nil {
		return nil, ErrBadResponse
	}
	var result []TreeEntry
	for _, item := range items {
		path, err := item.GetString("path")
		if err != nil {
			return nil, ErrBadResponse
		}
		result = append(result, TreeEntry{Path: path})
	}
	return result, nil
}

// RawFile downloads the raw contents of one file at the given commit.
func (c *Client) RawFile(repo Repo, sha, path string) ([]byte, error) {
	target := fmt.Sprintf("%s/%s/%s/%s", c.RawBase, repo, sha, path)
	req, err := http.NewRequest("GET", target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
		return ioutil.ReadAll(resp.Body)
	case 404:
		return nil, ErrBranchNotFound
	case 401, 403:
		return nil, ErrNotAuthorized
	default:
		return nil, fmt.Errorf("received status %d for %s", resp.StatusCode, target)
	}
}

// match reports whether a tree path names a file belonging in the bundle.
func (c *Client) match(path string) bool {
	if c.MatchSuffix != "" && strings.HasSuffix(path, c.MatchSuffix) {
		return true
	}
	return c.MatchFile != "" && path == c.MatchFile
}

// FetchFileSet resolves the branch key in repo and downloads every matching
// file in its tree. Files come back in tree order regardless of download
// completion order. Downloads run concurrently, limited by FetchLimit. The
// first download error cancels nothing already in flight but is returned
// once everything settles.
//
// A branch whose tree contains no matching entries returns an empty list
// and no error. The caller decides whether that counts as a hit.
func (c *Client) FetchFileSet(repo Repo, key string) ([]bundle.File, error) {
	commit, err := c.ResolveBranch(repo, key)
	if err != nil {
		return nil, err
	}
	tree, err := c.ListTree(commit.TreeURL)
	if err != nil {
		return nil, err
	}

	var wanted []string
	for _, entry := range tree {
		if c.match(entry.Path) {
			wanted = append(wanted, entry.Path)
		}
	}
	if len(wanted) == 0 {
		return []bundle.File{}, nil
	}

	limit := c.FetchLimit
	if limit <= 0 {
		limit = 4
	}
	gate := util.NewGate(limit)
	errs := make(chan error, len(wanted))
	result := make([]bundle.File, len(wanted))
	for i, path := range wanted {
		gate.Enter()
		go func(i int, path string) {
			defer gate.Leave()
			data, err := c.RawFile(repo, commit.SHA, path)
			if err != nil {
				errs <- fmt.Errorf("fetch %s@%s %s: %s", repo, key, path, err)
				return
			}
			result[i] = bundle.File{Path: path, Data: data}
			errs <- nil
		}(i, path)
	}
	for range wanted {
		if e := <-errs; e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doJasonGet(path string) (*jason.Object, error) {
	return c.doJasonGetURL(c.APIBase + path)
}

func (c *Client) doJasonGetURL(target string) (*jason.Object, error) {
	req, err := http.NewRequest("GET", target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
		return jason.NewObjectFromReader(resp.Body)
	case 404:
		return nil, ErrBranchNotFound
	case 401, 403:
		return nil, ErrNotAuthorized
	default:
		return nil, fmt.Errorf("received status %d for %s", resp.StatusCode, target)
	}
}

// do performs an http request using our client with a timeout. The timeout
// is arbitrary, and is just there so we don't hang indefinitely should the
// service never close the connection.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Add("Authorization", "Bearer "+c.Token)
	}
	if c.client == nil {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	}
	return c.client.Do(req)
}
