/*
Copyright 2025 Pextra Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cloudapi is a minimal CloudAPI client covering the image
// endpoints used by pce.
package cloudapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/PextraCloud/pce-cli/internal/errs"
	"github.com/PextraCloud/pce-cli/internal/images"
)

const (
	apiVersion       = "~9"
	defaultUserAgent = "pce-cli"
	defaultTimeout   = 60 * time.Second
)

type Config struct {
	URL       string
	Account   string
	Insecure  bool
	UserAgent string
	Timeout   time.Duration
}

// Client talks to one CloudAPI endpoint on behalf of one account.
type Client struct {
	base    *url.URL
	account string
	agent   string
	auth    Authorizer
	http    *http.Client
	closer  io.Closer
	now     func() time.Time
	log     logrus.FieldLogger
}

// APIError is an error response from CloudAPI.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// New returns a client for cfg that authorizes requests with auth.
func New(cfg Config, auth Authorizer) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid CloudAPI URL %q", cfg.URL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("invalid CloudAPI URL %q: scheme must be http or https", cfg.URL)
	}
	if cfg.Account == "" {
		return nil, errors.New("no account given")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		base:    base,
		account: cfg.Account,
		agent:   agent,
		auth:    auth,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		now:     time.Now,
		log:     logrus.WithField("component", "cloudapi"),
	}, nil
}

// HoldCloser ties c to a resource released by Close, such as an ssh-agent
// connection backing the authorizer.
func (c *Client) HoldCloser(closer io.Closer) {
	c.closer = closer
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

func (c *Client) imageByID(ctx context.Context, id string) (*images.Image, error) {
	var img images.Image
	if err := c.do(ctx, http.MethodGet, "/images/"+id, nil, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// ListImages lists the images visible to the account, filtered by query.
func (c *Client) ListImages(ctx context.Context, query url.Values) ([]images.Image, error) {
	var list []images.Image
	if err := c.do(ctx, http.MethodGet, "/images", query, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetImage resolves ref, which may be an image id, a name, a name@version
// or a short id. A full id is fetched directly, anything else is resolved
// against the list of all images.
func (c *Client) GetImage(ctx context.Context, ref string) (*images.Image, error) {
	if images.IsUUID(ref) {
		img, err := c.imageByID(ctx, ref)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, errs.NotFound(ref, fmt.Sprintf("image %s was not found", ref))
		}
		return img, err
	}

	list, err := c.ListImages(ctx, url.Values{"state": {"all"}})
	if err != nil {
		return nil, errors.WithMessage(err, "listing images")
	}
	return images.Resolve(list, ref)
}

// ExportImage asks CloudAPI to export image id to mantaPath.
func (c *Client) ExportImage(ctx context.Context, id, mantaPath string) (*images.ExportPath, error) {
	q := url.Values{"action": {"export"}, "manta_path": {mantaPath}}
	var out images.ExportPath
	if err := c.do(ctx, http.MethodPost, "/images/"+id, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := *c.base
	u.Path = c.base.Path + "/" + c.account + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	date := c.now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.agent)
	if c.auth != nil {
		authz, err := c.auth.Authorization(date)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", authz)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = errors.Wrapf(err, "%s %s", method, u.Path)
		if ctx.Err() != nil {
			return err
		}
		// an unreachable endpoint is a session problem, not a lookup one
		return errs.Setup(err)
	}
	defer resp.Body.Close()
	c.log.WithFields(logrus.Fields{
		"method":  method,
		"path":    u.Path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start),
	}).Debug("cloudapi request")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(body, apiErr); jerr != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errs.Setup(apiErr)
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "decoding %s %s response", method, u.Path)
	}
	return nil
}
