// Package tango is the wire adapter to the external sandboxed job runner.
// The runner exposes three verbs: open a work area, upload a file into it,
// and submit a job over previously uploaded files. Job completion is
// reported asynchronously to a callback URL carried in the job descriptor.
package tango

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

// Courselab is the named work area every job of this service runs in.
const Courselab = "awap"

// FileHandle names an uploaded file: LocalFile is the runner-visible name,
// DestFile the name the job sees inside the VM.
type FileHandle struct {
	LocalFile string `json:"localFile"`
	DestFile  string `json:"destFile"`
}

type jobRequest struct {
	Image       string       `json:"image"`
	JobName     string       `json:"jobName"`
	Files       []FileHandle `json:"files"`
	OutputFile  string       `json:"output_file"`
	CallbackURL string       `json:"callback_url"`
	Timeout     int          `json:"timeout"`
}

// Client talks to one runner instance. It is stateless and safe for
// concurrent use.
type Client struct {
	host        string // scheme://host:port
	key         string
	image       string
	timeoutSecs int

	http *http.Client
	log  *logger.Logger
}

// New builds a client for the runner at host:port.
func New(hostname, port, key, image string, jobTimeoutSecs int, log *logger.Logger) *Client {
	return &Client{
		host:        fmt.Sprintf("%s:%s", hostname, port),
		key:         key,
		image:       image,
		timeoutSecs: jobTimeoutSecs,
		http:        &http.Client{Timeout: 60 * time.Second},
		log:         log.Named("tango"),
	}
}

// OpenCourselab idempotently opens the service's work area on the runner.
func (c *Client) OpenCourselab(ctx context.Context) error {
	url := fmt.Sprintf("%s/open/%s/%s/", c.host, c.key, Courselab)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.Transport("could not build open request").WithErr(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Transport("could not connect to tango").WithErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Protocol("tango open returned status %d", resp.StatusCode)
	}
	c.log.Info("courselab opened", zap.String("courselab", Courselab))
	return nil
}

// UploadFile pushes a local file to the runner under tangoName; jobs that
// reference the returned handle see it as vmName.
func (c *Client) UploadFile(ctx context.Context, localPath, tangoName, vmName string) (FileHandle, error) {
	contents, err := os.ReadFile(localPath)
	if err != nil {
		return FileHandle{}, apperr.IO("could not read file to upload").WithErr(err)
	}

	url := fmt.Sprintf("%s/upload/%s/%s/", c.host, c.key, Courselab)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(contents))
	if err != nil {
		return FileHandle{}, apperr.Transport("could not build upload request").WithErr(err)
	}
	req.Header.Set("filename", tangoName)

	resp, err := c.http.Do(req)
	if err != nil {
		return FileHandle{}, apperr.Transport("could not connect to tango").WithErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FileHandle{}, apperr.Protocol("tango upload of %q returned status %d", tangoName, resp.StatusCode)
	}
	return FileHandle{LocalFile: tangoName, DestFile: vmName}, nil
}

// AddJob submits a job over the given file handles. The runner's
// acknowledgement JSON is returned verbatim.
func (c *Client) AddJob(ctx context.Context, jobName string, files []FileHandle, outputFile, callbackURL string) (json.RawMessage, error) {
	body, err := json.Marshal(jobRequest{
		Image:       c.image,
		JobName:     jobName,
		Files:       files,
		OutputFile:  outputFile,
		CallbackURL: callbackURL,
		Timeout:     c.timeoutSecs,
	})
	if err != nil {
		return nil, apperr.Protocol("could not encode job request").WithErr(err)
	}

	url := fmt.Sprintf("%s/addJob/%s/%s/", c.host, c.key, Courselab)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Transport("could not build addJob request").WithErr(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Transport("could not connect to tango").WithErr(err)
	}
	defer resp.Body.Close()

	ack, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport("could not read tango acknowledgement").WithErr(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Protocol("tango addJob %q returned status %d", jobName, resp.StatusCode)
	}

	c.log.Info("job submitted",
		zap.String("job_name", jobName),
		zap.String("output_file", outputFile),
		zap.Int("files", len(files)),
	)
	return ack, nil
}
