// Package peopleapi looks up a namespace's owner from the People REST
// facade by Gitlab handle or email.
package peopleapi

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// User is the subset of the People API's response this repository needs.
type User struct {
	Name    string `json:"name"`
	SlackID string `json:"slack_id"`
}

// Client queries the People API over HTTP, retrying transient failures.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// New builds a Client. ca is an optional PEM-encoded CA bundle path used to
// validate the People API's certificate; insecure disables verification
// entirely (for development clusters only).
func New(baseURL, ca string, insecure bool) (*Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil

	tlsConfig := &tls.Config{InsecureSkipVerify: insecure}
	if ca != "" {
		pem, err := os.ReadFile(ca)
		if err != nil {
			return nil, fmt.Errorf("peopleapi: reading CA bundle %s: %w", ca, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("peopleapi: no certificates found in %s", ca)
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	retryClient.HTTPClient.Transport = transport
	retryClient.HTTPClient.Timeout = 10 * time.Second

	return &Client{baseURL: baseURL, httpClient: retryClient}, nil
}

// Lookup finds the user matching gitlabHandle or email. At least one should
// be non-empty. Returns an error on any non-200 response.
func (c *Client) Lookup(gitlabHandle, email string) (*User, error) {
	query := url.Values{}
	query.Set("gitlab_handle", gitlabHandle)
	query.Set("email", email)

	reqURL := c.baseURL + "/api/people?" + query.Encode()

	resp, err := c.httpClient.Get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("peopleapi: requesting %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peopleapi: people api returned status %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("peopleapi: decoding response: %w", err)
	}

	return &user, nil
}
