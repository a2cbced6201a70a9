// Package fetch is the retrieval collaborator: it downloads versioned source
// dumps over HTTP and materializes the files the adapters consume. The core
// transform layer never blocks on it.
package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const utsLoginURL = "https://utslogin.nlm.nih.gov/cas/v1/api-key"

var tgtPattern = regexp.MustCompile(`https://.+(TGT\S+)" m`)

// Client downloads source artifacts with retries.
type Client struct {
	http *retryablehttp.Client
	log  zerolog.Logger
}

// NewClient creates a retrying download client.
func NewClient(log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	return &Client{http: rc, log: log.With().Str("component", "fetch").Logger()}
}

// DownloadFile streams a URL to dest, creating parent directories.
func (c *Client) DownloadFile(ctx context.Context, rawURL, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	c.log.Info().Str("url", rawURL).Str("dest", dest).Msg("downloaded source file")
	return nil
}

// DownloadRxNorm runs the UMLS ticket flow (api-key to ticket-granting
// ticket to service ticket), downloads the versioned RxNorm zip, and
// extracts RXNCONSO.RRF to destDir. Returns the extracted file path.
func (c *Client) DownloadRxNorm(ctx context.Context, apiKey, dataURL, version, destDir string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("RXNORM_API_KEY is not configured")
	}

	tgt, err := c.requestTGT(ctx, apiKey)
	if err != nil {
		return "", err
	}
	ticket, err := c.requestServiceTicket(ctx, tgt, dataURL)
	if err != nil {
		return "", err
	}

	zipPath := filepath.Join(destDir, fmt.Sprintf("rxnorm_%s.zip", version))
	if err := c.DownloadFile(ctx, dataURL+"?ticket="+ticket, zipPath); err != nil {
		return "", err
	}
	defer os.Remove(zipPath)

	rrfPath := filepath.Join(destDir, fmt.Sprintf("rxnorm_%s.RRF", version))
	if err := ExtractZipMember(zipPath, "rrf/RXNCONSO.RRF", rrfPath); err != nil {
		return "", err
	}
	return rrfPath, nil
}

func (c *Client) requestTGT(ctx context.Context, apiKey string) (string, error) {
	body := c.postForm(ctx, utsLoginURL, url.Values{"apikey": {apiKey}})
	if body.err != nil {
		return "", fmt.Errorf("request ticket-granting ticket: %w", body.err)
	}
	tgt, ok := ParseTGT(body.text)
	if !ok {
		return "", fmt.Errorf("ticket-granting ticket not found in response")
	}
	return tgt, nil
}

func (c *Client) requestServiceTicket(ctx context.Context, tgt, service string) (string, error) {
	body := c.postForm(ctx, utsLoginURL+"/"+tgt, url.Values{"service": {service}})
	if body.err != nil {
		return "", fmt.Errorf("request service ticket: %w", body.err)
	}
	return strings.TrimSpace(body.text), nil
}

type formResult struct {
	text string
	err  error
}

func (c *Client) postForm(ctx context.Context, endpoint string, values url.Values) formResult {
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST",
		endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return formResult{err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return formResult{err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return formResult{err: err}
	}
	return formResult{text: string(b)}
}

// ParseTGT extracts the ticket-granting ticket from the UMLS login response.
func ParseTGT(body string) (string, bool) {
	m := tgtPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractZipMember copies one member of a zip archive to dest.
func ExtractZipMember(zipPath, member, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", zipPath, err)
	}
	defer zr.Close()

	f, err := zr.Open(member)
	if err != nil {
		return fmt.Errorf("archive member %s: %w", member, err)
	}
	defer f.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("extract %s: %w", member, err)
	}
	return nil
}
