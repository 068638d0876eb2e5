package fileshare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/odeke-em/statos"

	"github.com/fileshare-client/fileshare/pathname"
)

const chunkSize = 50 * 1024 * 1024 // 50 MiB, per §4.3 "File upload"

// UploadResponse is the decoded body of a send/{parent_id} response: a
// stream_id to keep uploading, or a terminal message. The executor treats
// any non-empty message as an aborted upload.
type UploadResponse struct {
	StreamID       string `json:"stream_id,omitempty"`
	ProcessPercent int    `json:"process_percent,omitempty"`
	Message        string `json:"message,omitempty"`
}

// RemoteStore is the authenticated remote operations the core requires,
// per §4.5. All operations are fallible; errors surface unchanged except
// for the 401-retry-once rule, which is handled inside the implementation.
type RemoteStore interface {
	Authenticate(username string) (token string, expiration int64, err error)
	ListContent() ([]*RemoteItem, error)
	DownloadFile(id uint64, w io.Writer, progress chan<- int64) error
	UploadChunk(parentID *uint64, headers map[string]string, body io.Reader, size int64, progress chan<- int64) (*UploadResponse, error)
	MakeDirectory(parentID *uint64, name pathname.PathName) (*RemoteItem, error)
	MoveToTrash(ids []uint64) error
	DeleteAuthToken(token string) error
}

// httpRemoteStore implements RemoteStore against the wire protocol in
// §6.2: a plain REST surface over net/http, authenticated by a bearer-like
// content-authtoken header, retried once on 401 via Authenticate.
type httpRemoteStore struct {
	client  *http.Client
	baseURL string // e.g. "https://example.com/alice/notes"
	authURL string // e.g. "https://example.com"
	token   string
	device  string
	login   func(username string) (password string, err error)
}

// NewHTTPRemoteStore builds a RemoteStore over an HTTP(S) endpoint. login
// is the interactive password-prompt callback (§4.5 "interactive fallback
// prompts for password up to 3 times"); it is supplied by the CLI layer so
// this package stays free of terminal I/O.
func NewHTTPRemoteStore(client *http.Client, authURL, baseURL, device, token string, login func(string) (string, error)) RemoteStore {
	return &httpRemoteStore{
		client:  client,
		baseURL: baseURL,
		authURL: authURL,
		token:   token,
		device:  device,
		login:   login,
	}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

type authResponse struct {
	Token          string `json:"token"`
	ExpirationDate int64  `json:"expiration_date"`
}

func (h *httpRemoteStore) Authenticate(username string) (string, int64, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		password, err := h.login(username)
		if err != nil {
			return "", 0, authErr("password prompt failed", err)
		}
		body, _ := json.Marshal(authRequest{Username: username, Password: password, Device: h.device})
		resp, err := h.client.Post(h.authURL+"/api/create-authtoken", "application/json", bytes.NewReader(body))
		if err != nil {
			return "", 0, networkErr("create-authtoken request failed", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var out authResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return "", 0, protocolErr("malformed create-authtoken response", err)
			}
			h.token = out.Token
			return out.Token, out.ExpirationDate, nil
		}
		lastErr = authErr(fmt.Sprintf("authentication rejected (status %d)", resp.StatusCode), nil)
	}
	return "", 0, lastErr
}

func (h *httpRemoteStore) authHeader(req *http.Request) {
	req.Header.Set("content-authtoken", h.token)
}

// withReauth executes do once; on a 401 it re-authenticates exactly once
// (empty username reuses whatever identity the server remembers for the
// token) and retries do, per §4.5's "second 401 is fatal" rule.
func (h *httpRemoteStore) withReauth(username string, do func() (*http.Response, error)) (*http.Response, error) {
	resp, err := do()
	if err != nil {
		return nil, networkErr("request failed", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()
	if _, _, err := h.Authenticate(username); err != nil {
		return nil, authErr("re-authentication after 401 failed", err)
	}
	resp, err = do()
	if err != nil {
		return nil, networkErr("retried request failed", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, authErr("second 401 after re-authentication is fatal", nil)
	}
	return resp, nil
}

func (h *httpRemoteStore) ListContent() ([]*RemoteItem, error) {
	resp, err := h.withReauth("", func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, h.baseURL+"/content/", nil)
		if err != nil {
			return nil, err
		}
		h.authHeader(req)
		return h.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, protocolErr(fmt.Sprintf("list content returned status %d", resp.StatusCode), nil)
	}
	var items []*RemoteItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, protocolErr("malformed content listing", err)
	}
	return items, nil
}

func (h *httpRemoteStore) DownloadFile(id uint64, w io.Writer, progress chan<- int64) error {
	resp, err := h.withReauth("", func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/file/%d", h.baseURL, id), nil)
		if err != nil {
			return nil, err
		}
		h.authHeader(req)
		return h.client.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return protocolErr(fmt.Sprintf("download returned status %d", resp.StatusCode), nil)
	}

	src := statos.NewReader(resp.Body)
	if progress != nil {
		go drainProgress(src.ProgressChan(), progress)
	}
	_, err = io.Copy(w, src)
	if err != nil {
		return filesystemErr("writing downloaded content failed", err)
	}
	return nil
}

func drainProgress(in chan int, out chan<- int64) {
	for n := range in {
		out <- int64(n)
	}
}

func (h *httpRemoteStore) UploadChunk(parentID *uint64, headers map[string]string, body io.Reader, size int64, progress chan<- int64) (*UploadResponse, error) {
	url := h.baseURL + "/send/"
	if parentID != nil {
		url = fmt.Sprintf("%s/send/%d", h.baseURL, *parentID)
	}

	src := statos.NewReader(body)
	if progress != nil {
		go drainProgress(src.ProgressChan(), progress)
	}

	resp, err := h.withReauth("", func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodPost, url, src)
		if err != nil {
			return nil, err
		}
		h.authHeader(req)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.ContentLength = size
		return h.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, protocolErr("malformed upload-chunk response", err)
	}
	return &out, nil
}

func (h *httpRemoteStore) MakeDirectory(parentID *uint64, name pathname.PathName) (*RemoteItem, error) {
	url := h.baseURL + "/make-directory/"
	if parentID != nil {
		url = fmt.Sprintf("%s/make-directory/%d", h.baseURL, *parentID)
	}
	payload, _ := json.Marshal(map[string]string{"name": name.Encoded()})

	resp, err := h.withReauth("", func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		h.authHeader(req)
		req.Header.Set("Content-Type", "application/json")
		return h.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, protocolErr(fmt.Sprintf("make-directory returned status %d", resp.StatusCode), nil)
	}
	var item RemoteItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, protocolErr("malformed make-directory response", err)
	}
	return &item, nil
}

func (h *httpRemoteStore) MoveToTrash(ids []uint64) error {
	payload, _ := json.Marshal(ids)
	resp, err := h.withReauth("", func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodPost, h.baseURL+"/move-to-trash/", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		h.authHeader(req)
		req.Header.Set("Content-Type", "application/json")
		return h.client.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return protocolErr(fmt.Sprintf("move-to-trash returned status %d", resp.StatusCode), nil)
	}
	return nil
}

func (h *httpRemoteStore) DeleteAuthToken(token string) error {
	resp, err := h.client.Post(h.authURL+"/api/delete-authtoken/"+token+"/", "application/json", nil)
	if err != nil {
		return networkErr("delete-authtoken request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return protocolErr(fmt.Sprintf("delete-authtoken returned status %d", resp.StatusCode), nil)
	}
	return nil
}
