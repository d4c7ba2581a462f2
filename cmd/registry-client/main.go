package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/filecollect/file-registry-backend/httpserver"
	"github.com/filecollect/file-registry-backend/interfaces"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Registry server address",
}
var flagContext *cli.StringFlag = &cli.StringFlag{
	Name:     "context",
	Required: true,
	Usage:    "Context identifier owning the collection",
}
var flagPassphrase *cli.StringFlag = &cli.StringFlag{
	Name:  "passphrase",
	Usage: "Context encryption passphrase, if the context encrypts metadata",
}
var flagScope *cli.StringFlag = &cli.StringFlag{
	Name:  "scope",
	Usage: "Visibility scope; empty means globally shared",
}

func main() {
	app := &cli.App{
		Name:  "registry-client",
		Usage: "Command-line client for the file registry API",
		Flags: []cli.Flag{
			flagServerAddr,
			flagContext,
			flagPassphrase,
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload a local file and register it",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{flagScope},
				Action: func(cCtx *cli.Context) error {
					c := newClient(cCtx)
					return c.upload(cCtx.Args().First(), cCtx.String("scope"))
				},
			},
			{
				Name:  "list",
				Usage: "List records visible to a scope",
				Flags: []cli.Flag{flagScope},
				Action: func(cCtx *cli.Context) error {
					c := newClient(cCtx)
					return c.list(cCtx.String("scope"))
				},
			},
			{
				Name:      "find",
				Usage:     "Find one record by hash, URL, or filename",
				ArgsUsage: "<query>",
				Action: func(cCtx *cli.Context) error {
					c := newClient(cCtx)
					return c.find(cCtx.Args().First())
				},
			},
			{
				Name:      "url",
				Usage:     "Issue a short-lived access URL for a record",
				ArgsUsage: "<hash>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "ttl-minutes", Value: 15, Usage: "lifetime of the issued URL"},
				},
				Action: func(cCtx *cli.Context) error {
					c := newClient(cCtx)
					return c.accessURL(cCtx.Args().First(), cCtx.Int("ttl-minutes"))
				},
			},
			{
				Name:      "remove-scope",
				Usage:     "Remove a scope from a record's visibility",
				ArgsUsage: "<hash> <scope>",
				Action: func(cCtx *cli.Context) error {
					c := newClient(cCtx)
					return c.removeScope(cCtx.Args().Get(0), cCtx.Args().Get(1))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type client struct {
	serverAddr string
	contextID  string
	passphrase string
	http       *http.Client
}

func newClient(cCtx *cli.Context) *client {
	return &client{
		serverAddr: cCtx.String("server-addr"),
		contextID:  cCtx.String("context"),
		passphrase: cCtx.String("passphrase"),
		http:       &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.serverAddr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.passphrase != "" {
		req.Header.Set(httpserver.PassphraseHeader, c.passphrase)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) upload(path, scope string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var rec interfaces.FileRecord
	err = c.do(http.MethodPost, "/api/contexts/"+url.PathEscape(c.contextID)+"/files", map[string]any{
		"content_base64": base64.StdEncoding.EncodeToString(data),
		"filename":       filepath.Base(path),
		"scope":          scope,
	}, &rec)
	if err != nil {
		return err
	}

	fmt.Printf("Registered %s as %s\n", filepath.Base(path), rec.Hash)
	fmt.Printf("  url: %s\n", rec.URL)
	return nil
}

func (c *client) list(scope string) error {
	path := "/api/contexts/" + url.PathEscape(c.contextID) + "/files"
	if scope != "" {
		path += "?scope=" + url.QueryEscape(scope)
	}

	var records []interfaces.FileRecord
	if err := c.do(http.MethodGet, path, nil, &records); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Hash", "Filename", "MIME", "Visibility", "Last Accessed"})
	for _, rec := range records {
		visibility := "latent"
		switch {
		case rec.Visibility.IsGlobal():
			visibility = "global"
		case len(rec.Visibility.Scopes) > 0:
			visibility = fmt.Sprintf("%v", rec.Visibility.Scopes)
		}
		t.AppendRow(table.Row{
			rec.Hash.String(),
			rec.DisplayFilename,
			rec.MimeType,
			visibility,
			rec.LastAccessed.Format(time.RFC3339),
		})
	}
	t.Render()
	return nil
}

func (c *client) find(query string) error {
	if query == "" {
		return fmt.Errorf("query is required")
	}

	var rec interfaces.FileRecord
	path := "/api/contexts/" + url.PathEscape(c.contextID) + "/files/find?q=" + url.QueryEscape(query)
	if err := c.do(http.MethodGet, path, nil, &rec); err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func (c *client) accessURL(hash string, ttlMinutes int) error {
	if hash == "" {
		return fmt.Errorf("hash is required")
	}

	var resp struct {
		URL       string `json:"url"`
		MimeType  string `json:"mime_type"`
		ExpiresAt string `json:"expires_at"`
	}
	path := fmt.Sprintf("/api/contexts/%s/files/%s/url?ttl_minutes=%d",
		url.PathEscape(c.contextID), hash, ttlMinutes)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	fmt.Println(resp.URL)
	if resp.ExpiresAt != "" {
		fmt.Printf("  expires: %s\n", resp.ExpiresAt)
	}
	return nil
}

func (c *client) removeScope(hash, scope string) error {
	if hash == "" || scope == "" {
		return fmt.Errorf("hash and scope are required")
	}

	var rec interfaces.FileRecord
	path := fmt.Sprintf("/api/contexts/%s/files/%s/scopes/%s",
		url.PathEscape(c.contextID), hash, url.PathEscape(scope))
	if err := c.do(http.MethodDelete, path, nil, &rec); err != nil {
		return err
	}

	if rec.Visibility.IsLatent() {
		fmt.Printf("Record %s is now latent\n", rec.Hash)
	} else {
		fmt.Printf("Record %s visibility updated\n", rec.Hash)
	}
	return nil
}
