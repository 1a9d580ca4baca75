package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	httpTimeout  = 5 * time.Second
	progressStep = 5
)

// emit writes one event frame to the websocket.
func (model *TUIModel) emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	if model.websocketConn == nil {
		return fmt.Errorf("websocket not connected")
	}
	_ = model.websocketConn.SetWriteDeadline(time.Now().Add(writeWait))
	return model.websocketConn.WriteMessage(websocket.TextMessage, frame)
}

// postFile streams r to POST /upload as a multipart form.
func (model *TUIModel) postFile(uploadID, name string, r io.Reader) (FileUpload, error) {
	endpoint, err := httpURL(model.serverURL, "/upload")
	if err != nil {
		return FileUpload{}, err
	}

	pipeReader, pipeWriter := io.Pipe()
	defer pipeReader.Close()
	form := multipart.NewWriter(pipeWriter)
	go func() {
		pipeWriter.CloseWithError(writeUploadForm(form, uploadID, name, r))
	}()

	req, err := http.NewRequest(http.MethodPost, endpoint, pipeReader)
	if err != nil {
		return FileUpload{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	resp, err := model.httpClient.Do(req)
	if err != nil {
		return FileUpload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FileUpload{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	var result FileUpload
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return FileUpload{}, err
	}
	return result, nil
}

func writeUploadForm(form *multipart.Writer, uploadID, name string, r io.Reader) error {
	if uploadID != "" {
		if err := form.WriteField("uploadId", uploadID); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return form.Close()
}

// fetchServerVersion reads the version reported by /healthz. A degraded
// server still answers with its version.
func (model *TUIModel) fetchServerVersion() (string, error) {
	endpoint, err := httpURL(model.serverURL, "/healthz")
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Get(endpoint)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("server returned %d: %w", resp.StatusCode, err)
	}
	return health.Version, nil
}

// progressReader reports whole percentages in steps of progressStep.
type progressReader struct {
	reader io.Reader
	total  int64
	read   int64
	last   int
	report func(percent int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent >= p.last+progressStep || (percent == 100 && p.last != 100) {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// httpURL maps the websocket URL onto the HTTP origin of the same server.
func httpURL(wsURL, path string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = path
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}
