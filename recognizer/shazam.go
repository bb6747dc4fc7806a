package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"tunespot/audio"
)

const (
	DefaultEndpoint = "https://shazam-core.p.rapidapi.com/v1/tracks/recognize"
	DefaultTimeout  = 30 * time.Second

	rapidAPIHost = "shazam-core.p.rapidapi.com"
	fileField    = "upload_file"
)

// Shazam posts clips to the RapidAPI Shazam recognize endpoint as a multipart
// upload_file part. The part is named recording.flac or recording.wav with the
// clip's own content type, not the recording.webm a browser recorder would
// send; no pure-Go encoder produces WebM/Opus.
type Shazam struct {
	client   *TracedClient
	endpoint string
}

// NewShazam returns a recognizer posting to endpoint, or to DefaultEndpoint
// when endpoint is empty.
func NewShazam(endpoint string, timeout time.Duration) *Shazam {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Shazam{client: NewTracedClient(timeout), endpoint: endpoint}
}

func (s *Shazam) Name() string { return "shazam" }

func (s *Shazam) Endpoint() string { return s.endpoint }

type shazamResponse struct {
	Track *struct {
		Title    string `json:"title"`
		Subtitle string `json:"subtitle"`
		URL      string `json:"url"`
		Images   struct {
			Coverart   string `json:"coverart"`
			Background string `json:"background"`
		} `json:"images"`
	} `json:"track"`
}

// Identify submits clip once. Nothing is retried or cached.
func (s *Shazam) Identify(ctx context.Context, clip audio.Clip, credential string) (Result, error) {
	if credential == "" {
		return Result{}, ErrMissingCredential
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, clip.Filename))
	header.Set("Content-Type", clip.MediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return Result{}, &FailedError{Cause: err}
	}
	if _, err := part.Write(clip.Data); err != nil {
		return Result{}, &FailedError{Cause: err}
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &body)
	if err != nil {
		return Result{}, &FailedError{Cause: err}
	}
	req.Header.Set("X-RapidAPI-Key", credential)
	req.Header.Set("X-RapidAPI-Host", rapidAPIHost)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, metrics, err := s.client.Do(req)
	if err != nil {
		return Result{}, &FailedError{Cause: err, Metrics: metrics}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &FailedError{
			Status:  resp.StatusCode,
			Cause:   fmt.Errorf("shazam API error: %s", truncate(resp.Body, 200)),
			Metrics: metrics,
		}
	}

	var sResp shazamResponse
	if err := json.Unmarshal(resp.Body, &sResp); err != nil {
		return Result{}, &FailedError{
			Status:  resp.StatusCode,
			Cause:   fmt.Errorf("shazam response parse error: %w", err),
			Metrics: metrics,
		}
	}

	if sResp.Track == nil {
		r := NoMatch
		r.Metrics = metrics
		return r, nil
	}
	image := sResp.Track.Images.Coverart
	if image == "" {
		image = sResp.Track.Images.Background
	}
	return Result{
		Matched:  true,
		Title:    sResp.Track.Title,
		Subtitle: sResp.Track.Subtitle,
		Image:    image,
		URL:      sResp.Track.URL,
		Metrics:  metrics,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
