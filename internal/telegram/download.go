package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/voxledger/internal/audio"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// DownloadTimeout is the default limit for one file download.
const DownloadTimeout = 30 * time.Second

// fileResolver is the part of *tele.Bot that maps file IDs to paths.
type fileResolver interface {
	FileByID(fileID string) (tele.File, error)
}

// Downloader fetches Telegram files into the work directory. It implements
// session.Fetcher.
type Downloader struct {
	resolver fileResolver
	token    string
	apiURL   string
	workDir  string
	client   *http.Client
}

// NewDownloader creates a downloader writing into workDir.
func NewDownloader(resolver fileResolver, token, apiURL, workDir string, timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = DownloadTimeout
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Downloader{
		resolver: resolver,
		token:    token,
		apiURL:   strings.TrimRight(apiURL, "/"),
		workDir:  workDir,
		client:   &http.Client{Timeout: timeout},
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Fetch downloads fileID and returns the local path. Files the Bot API
// refuses to serve (over 20 MB) fail with audio.ErrSizeLimitExceeded.
func (d *Downloader) Fetch(ctx context.Context, fileID, fileName string) (string, error) {
	if fileID == "" {
		return "", fmt.Errorf("invalid file: missing file ID")
	}

	info, err := d.resolver.FileByID(fileID)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "file is too big") {
			return "", fmt.Errorf("%w: telegram refused download: %v", audio.ErrSizeLimitExceeded, err)
		}
		return "", fmt.Errorf("failed to get file info: %w", err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", d.apiURL, d.token, info.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(d.workDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}

	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = filepath.Ext(info.FilePath)
	}
	base := unsafeChars.ReplaceAllString(fileID, "_")
	if len(base) > 64 {
		base = base[:64]
	}
	dest := filepath.Join(d.workDir, fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext))

	tmp := dest + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to read file content: %w", err)
	}

	if ext == "" {
		if mt, err := mimetype.DetectFile(tmp); err == nil {
			dest += mt.Extension()
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	L_debug("telegram: file downloaded", "fileID", fileID, "path", dest, "bytes", n)
	return dest, nil
}
