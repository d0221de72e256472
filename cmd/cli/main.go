package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

const defaultServerURL = "http://localhost:12212"

func main() {
	var serverURL, tenant string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&tenant, "tenant", "", "Tenant ID (required for most commands)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cli := &client{serverURL: serverURL, tenant: tenant}

	var err error
	switch args[0] {
	case "status":
		err = cli.get("/printer/status")
	case "init":
		if len(args) < 3 {
			err = fmt.Errorf("usage: init <usb|network> <address> [name]")
			break
		}
		body := map[string]any{
			"printer_type":   args[1],
			"device_address": args[2],
		}
		if len(args) > 3 {
			body["printer_name"] = args[3]
		}
		err = cli.post("/printer/initialize", body)
	case "disconnect":
		err = cli.post("/printer/disconnect", map[string]any{})
	case "print":
		if len(args) < 2 {
			err = fmt.Errorf("usage: print <order_id>")
			break
		}
		err = cli.post("/print/receipt", map[string]any{"order_id": args[1]})
	case "print-return":
		if len(args) < 2 {
			err = fmt.Errorf("usage: print-return <return_id>")
			break
		}
		err = cli.post("/print/return", map[string]any{"return_id": args[1]})
	case "test":
		err = cli.post("/print/test", map[string]any{})
	case "jobs":
		err = cli.get("/jobs")
	case "job":
		if len(args) < 2 {
			err = fmt.Errorf("usage: job <id>")
			break
		}
		err = cli.get("/jobs/" + args[1])
	case "health":
		err = cli.get("/health")
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	serverURL string
	tenant    string
}

func (c *client) get(path string) error {
	req, err := http.NewRequest(http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) post(path string, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) do(req *http.Request) error {
	if c.tenant != "" {
		req.Header.Set("X-Tenant-ID", c.tenant)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `posprint CLI

Usage:
  posprint [-server URL] [-tenant ID] <command>

Commands:
  status                         Show printer connection state
  init <usb|network> <address>   Configure the active printer
  disconnect                     Deactivate the active printer
  print <order_id>               Print an order receipt
  print-return <return_id>       Print a return receipt
  test                           Print a test page
  jobs                           List recent print jobs
  job <id>                       Show one print job with receipt text
  health                         Server health check
`)
}
